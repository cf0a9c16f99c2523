// Package testutil holds helpers shared by webptt tests.
package testutil

// Ptr returns a pointer to v, for optional fields in test tables.
func Ptr[T any](v T) *T { return &v }
