package testutil

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func AssertEqual(t testing.TB, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf(
			"Not equal: \nexpected: %v\nactual  : %v\n%s",
			expected,
			actual,
			FormatMsgAndArgs(msgAndArgs...),
		)
	}
}

func AssertNotEqual(t testing.TB, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if reflect.DeepEqual(expected, actual) {
		t.Errorf(
			"Expected values to differ, both were: %v\n%s",
			actual,
			FormatMsgAndArgs(msgAndArgs...),
		)
	}
}

func AssertTrue(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if !condition {
		t.Errorf("Expected condition to be true\n%s", FormatMsgAndArgs(msgAndArgs...))
	}
}

func AssertFalse(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if condition {
		t.Errorf("Expected condition to be false\n%s", FormatMsgAndArgs(msgAndArgs...))
	}
}

func AssertNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Errorf("Unexpected error: %v\n%s", err, FormatMsgAndArgs(msgAndArgs...))
	}
}

func AssertError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected an error but got nil\n%s", FormatMsgAndArgs(msgAndArgs...))
	}
}

func AssertErrorIs(t testing.TB, err, target error, msgAndArgs ...any) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf(
			"Expected error to be %v but got %v\n%s",
			target,
			err,
			FormatMsgAndArgs(msgAndArgs...),
		)
	}
}

func AssertLen(t testing.TB, object any, length int, msgAndArgs ...any) {
	t.Helper()
	v := reflect.ValueOf(object)
	if v.Len() != length {
		t.Errorf(
			"Length not equal: \nexpected: %d\nactual  : %d\n%s",
			length,
			v.Len(),
			FormatMsgAndArgs(msgAndArgs...),
		)
	}
}

func AssertEmpty(t testing.TB, object any, msgAndArgs ...any) {
	t.Helper()
	v := reflect.ValueOf(object)
	if v.Len() != 0 {
		t.Errorf("Expected empty but got length %d\n%s", v.Len(), FormatMsgAndArgs(msgAndArgs...))
	}
}

func AssertContains(t testing.TB, s, substr string, msgAndArgs ...any) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf(
			"Expected string to contain substring:\nstring: %q\nsubstring: %q\n%s",
			s,
			substr,
			FormatMsgAndArgs(msgAndArgs...),
		)
	}
}

func AssertNotNil(t testing.TB, object any, msgAndArgs ...any) {
	t.Helper()
	if object == nil {
		t.Errorf("Expected not nil but got nil\n%s", FormatMsgAndArgs(msgAndArgs...))
		return
	}

	v := reflect.ValueOf(object)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		t.Errorf("Expected not nil but got nil pointer\n%s", FormatMsgAndArgs(msgAndArgs...))
	}
}

// FormatMsgAndArgs formats an optional message (with printf args) for error output.
func FormatMsgAndArgs(msgAndArgs ...any) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if len(msgAndArgs) == 1 {
		return fmt.Sprintf("\nMessage: %v", msgAndArgs[0])
	}
	format, ok := msgAndArgs[0].(string)
	if !ok {
		return fmt.Sprintf("\nMessage: %v", msgAndArgs)
	}
	return fmt.Sprintf("\nMessage: %s", fmt.Sprintf(format, msgAndArgs[1:]...))
}

// RequireNoError fails the test immediately when err is non-nil.
func RequireNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("Required no error but got: %v\n%s", err, FormatMsgAndArgs(msgAndArgs...))
	}
}

func RequireNotNil(t testing.TB, object any, msgAndArgs ...any) {
	t.Helper()
	if object == nil {
		t.Fatalf("Required not nil but got nil\n%s", FormatMsgAndArgs(msgAndArgs...))
		return
	}

	v := reflect.ValueOf(object)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		t.Fatalf("Required not nil but got nil pointer\n%s", FormatMsgAndArgs(msgAndArgs...))
	}
}

// RequireEventually polls cond every tick until it returns true or timeout elapses,
// then fails the test immediately.
func RequireEventually(t testing.TB, cond func() bool, timeout, tick time.Duration, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met within %v\n%s", timeout, FormatMsgAndArgs(msgAndArgs...))
			return
		}
		time.Sleep(tick)
	}
}

// AssertNever polls cond for the whole duration and fails if it ever returns true.
func AssertNever(t testing.TB, cond func() bool, duration, tick time.Duration, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if cond() {
			t.Errorf("Condition unexpectedly met\n%s", FormatMsgAndArgs(msgAndArgs...))
			return
		}
		time.Sleep(tick)
	}
}
