// Package password implements the encryption key-index/password registry
// and the interactive callbacks invoked when a key is missing or rejected.
package password

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/mkar-fmt/mkar/internal/cryptutil"
)

// PromptFunc requests a password for key index kix and reports whether one
// was obtained. It returns ok=false when no further attempt should be made
// (non-interactive session, user declined, and so on).
type PromptFunc func(kix uint32) (string, bool)

// Store holds registered passwords, keyed by key index, plus the callbacks
// invoked when a password is missing or incorrect.
type Store struct {
	keys        map[uint32]string
	OnMissing   PromptFunc
	OnIncorrect PromptFunc
}

// NewStore returns an empty Store with no callbacks registered.
func NewStore() *Store {
	return &Store{keys: make(map[uint32]string)}
}

// SetKey registers (or replaces) the password for kix.
func (s *Store) SetKey(kix uint32, pw string) {
	s.keys[kix] = pw
}

// HasKey reports whether a password is already registered for kix.
func (s *Store) HasKey(kix uint32) bool {
	_, ok := s.keys[kix]
	return ok
}

var errGaveUp = xerrors.New("password: no further attempt")

// Resolve obtains a password for kix (prompting via OnMissing if none is
// registered) and calls tryFn with it. If tryFn fails with
// cryptutil.ErrIncorrectPassword, Resolve prompts via OnIncorrect and
// retries, looping until tryFn succeeds or a callback declines to continue.
func (s *Store) Resolve(kix uint32, tryFn func(password string) error) error {
	pw, ok := s.Get(kix)
	if !ok {
		if s.OnMissing == nil {
			return xerrors.Errorf("password: missing password for key index %d", kix)
		}
		newPW, ok := s.OnMissing(kix)
		if !ok {
			return xerrors.Errorf("password: missing password for key index %d", kix)
		}
		s.SetKey(kix, newPW)
		pw = newPW
	}

	for {
		err := tryFn(pw)
		if err == nil {
			return nil
		}
		if !xerrors.Is(err, cryptutil.ErrIncorrectPassword) {
			return err
		}
		if s.OnIncorrect == nil {
			return err
		}
		newPW, ok := s.OnIncorrect(kix)
		if !ok {
			return err
		}
		s.SetKey(kix, newPW)
		pw = newPW
	}
}

// Get returns the password registered for kix, if any.
func (s *Store) Get(kix uint32) (string, bool) {
	pw, ok := s.keys[kix]
	return pw, ok
}

// InteractivePrompt builds a PromptFunc that writes msg to stderr and reads
// a line from in. When in is not a terminal it declines immediately rather
// than blocking on a read that will never be answered.
func InteractivePrompt(in *os.File, msg string) PromptFunc {
	return func(kix uint32) (string, bool) {
		if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
			log.Printf("password: key index %d needs a password but stdin is not a terminal, giving up", kix)
			return "", false
		}
		fmt.Fprintf(os.Stderr, msg, kix)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", false
		}
		return trimNewline(line), true
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
