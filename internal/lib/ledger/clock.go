package ledger

import (
	"time"
)

// Clock supplies the current time for window, penalty and accrual checks.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
