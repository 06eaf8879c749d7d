/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stretchr/testify/require"
)

// RequireNoErrorInChannel asserts that a buffered channel does not hold an error.
// An empty channel passes.
func RequireNoErrorInChannel(t require.TestingT, c <-chan error, msgAndArgs ...interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var err error
	select {
	case err = <-c:
	default:
	}
	require.NoError(t, err, msgAndArgs...)
}

// RequireErrorInChannel waits up to timeout for an error in the channel and returns it.
func RequireErrorInChannel(t require.TestingT, c <-chan error, timeout time.Duration) error {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	select {
	case err := <-c:
		require.Error(t, err)
		return err
	case <-time.After(timeout):
		require.FailNow(t, fmt.Sprintf("no error received within %s", timeout))
		return nil
	}
}

// RequireErrorIsAny asserts that err's chain matches at least one target.
// This is a wrapper for errors.Is.
func RequireErrorIsAny(t require.TestingT, err error, targets []error, msgAndArgs ...interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	expected := make([]string, 0, len(targets))
	for _, target := range targets {
		if errors.Is(err, target) {
			return
		}
		expected = append(expected, fmt.Sprintf("%q", target.Error()))
	}
	require.FailNow(t, fmt.Sprintf("At least one target error should be in err chain:\n"+
		"expected: [%s]\n"+
		"in chain: %s", strings.Join(expected, "; "), errorChainString(err),
	), msgAndArgs...)
}

func errorChainString(err error) string {
	if err == nil {
		return ""
	}
	lines := []string{fmt.Sprintf("%q", err.Error())}
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%q", e.Error()))
	}
	return strings.Join(lines, "\n\t")
}
