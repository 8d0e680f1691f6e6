// Package tassert provides small testing.TB assertion helpers, in the
// style of the teacher's own tools/tassert package (used throughout
// transport's tests as tassert.CheckFatal(t, err) etc.) -- not present in
// the retrieved example sources, recreated here from its call sites.
package tassert

import "testing"

// CheckFatal fails and stops the test immediately if err is non-nil.
func CheckFatal(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

// CheckError fails (without stopping the test) if err is non-nil.
func CheckError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

// Fatal fails and stops the test if cond is false.
func Fatal(t testing.TB, cond bool, msg string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// Errorf fails (without stopping the test) if cond is false.
func Errorf(t testing.TB, cond bool, msg string, args ...any) {
	t.Helper()
	if !cond {
		t.Errorf(msg, args...)
	}
}
