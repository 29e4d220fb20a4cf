package logging

import "time"

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation for the given category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.category).Debug("%s took %v", t.op, time.Since(t.start))
}

// StopWithInfo logs the elapsed time at info level.
func (t *Timer) StopWithInfo() {
	Get(t.category).Info("%s took %v", t.op, time.Since(t.start))
}
