package errz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{Compile, "compile error"},
		{Resolution, "resolution error"},
		{Conversion, "conversion error"},
		{Chain, "call chain error"},
		{Execution, "execution error"},
		{Kind(99), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(Resolution, cause).WithScript("lib/util.js")

	require.Equal(t, "resolution error: disk on fire (lib/util.js)", err.Error())
	require.True(t, errors.Is(err, cause))
	require.True(t, err.IsFatal())

	wrapped := fmt.Errorf("outer: %w", err)
	require.True(t, Is(wrapped, Resolution))
	require.False(t, Is(wrapped, Compile))

	_, ok := KindOf(cause)
	require.False(t, ok)
}

func TestConversionIsNotFatal(t *testing.T) {
	err := New(Conversion, "cannot convert %T", 1)
	require.False(t, err.IsFatal())
	require.Equal(t, "conversion error: cannot convert int", err.Error())
}

func TestFriendlyErrorMessage(t *testing.T) {
	first := errors.New("strict mode violation")
	last := errors.New("unexpected token")
	var attempts *multierror.Error
	attempts = multierror.Append(attempts, first, last)

	err := New(Compile, "all levels failed").
		WithScript("main.js").
		WithChain([]string{"main.js", "lib.js"}).
		WithCause(last)
	err.Attempts = attempts

	require.True(t, errors.Is(err, last))
	require.False(t, errors.Is(err, first))

	msg := err.FriendlyErrorMessage()
	require.Contains(t, msg, "compile error: all levels failed")
	require.Contains(t, msg, "script: main.js")
	require.Contains(t, msg, "1. strict mode violation")
	require.Contains(t, msg, "2. unexpected token")
	require.Contains(t, msg, "Call chain:\n  at lib.js\n  at main.js\n")

	var friendly FriendlyError = err
	require.NotEmpty(t, friendly.FriendlyErrorMessage())
}
