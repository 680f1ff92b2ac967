package auth

import "time"

// Clock supplies wall-clock time in whole seconds since the epoch.
// Injectable so TTL behavior is testable without sleeping.
type Clock interface {
	Now() int64
}

type systemClock struct{}

func (systemClock) Now() int64 {
	return time.Now().Unix()
}

// SystemClock returns the real wall clock
func SystemClock() Clock {
	return systemClock{}
}
