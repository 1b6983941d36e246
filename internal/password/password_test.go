package password

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkar-fmt/mkar/internal/cryptutil"
)

func TestResolveUsesRegisteredKey(t *testing.T) {
	s := NewStore()
	s.SetKey(7, "hunter2")

	var got string
	err := s.Resolve(7, func(pw string) error {
		got = pw
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestResolvePromptsWhenMissing(t *testing.T) {
	s := NewStore()
	prompted := false
	s.OnMissing = func(kix uint32) (string, bool) {
		prompted = true
		require.EqualValues(t, 3, kix)
		return "supplied", true
	}

	err := s.Resolve(3, func(pw string) error {
		require.Equal(t, "supplied", pw)
		return nil
	})
	require.NoError(t, err)
	require.True(t, prompted)
}

func TestResolveRetriesOnIncorrectPassword(t *testing.T) {
	s := NewStore()
	s.SetKey(1, "wrong")
	attempts := 0
	s.OnIncorrect = func(kix uint32) (string, bool) {
		return "correct", true
	}

	err := s.Resolve(1, func(pw string) error {
		attempts++
		if pw != "correct" {
			return cryptutil.ErrIncorrectPassword
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestResolveGivesUpWhenCallbackDeclines(t *testing.T) {
	s := NewStore()
	s.OnMissing = func(kix uint32) (string, bool) {
		return "", false
	}
	err := s.Resolve(9, func(pw string) error { return nil })
	require.Error(t, err)
}
