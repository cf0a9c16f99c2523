// Package singleinstance keeps one background relay per user.
package singleinstance

import "errors"

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("singleinstance: another instance is already running")
