package util

import "time"

// Clock supplies timestamps so creation-time ordering is injectable in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
