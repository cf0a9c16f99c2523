// Package procutil builds child process commands. On Windows the child's
// console window is hidden so spawning the native host does not flash a
// terminal on screen.
package procutil
