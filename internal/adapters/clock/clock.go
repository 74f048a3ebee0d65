package clock

import "time"

// Clock provides time.Now() access.
type Clock struct{}

// Now returns the current wall time.
func (Clock) Now() time.Time {
	return time.Now()
}

// NowUnix returns current unix seconds.
func (Clock) NowUnix() int64 {
	return time.Now().Unix()
}
