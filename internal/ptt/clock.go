package ptt

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running if it has not started yet.
	Stop() bool
}

// Clock supplies the current time and callback scheduling.
// Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock backed by time.AfterFunc.
var SystemClock Clock = systemClock{}
