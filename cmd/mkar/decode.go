package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/mkar-fmt/mkar/internal/password"
	"github.com/mkar-fmt/mkar/internal/unpacker"
)

// cmdDecode implements mode "d": extract entries from archive.
func cmdDecode(ctx context.Context, archive string, args []string) error {
	f, err := os.Open(archive)
	if err != nil {
		return xerrors.Errorf("open %s: %w", archive, err)
	}
	defer f.Close()

	store := password.NewStore()
	store.OnMissing = password.InteractivePrompt(os.Stdin, "Please enter the key for index %d:\n")
	store.OnIncorrect = password.InteractivePrompt(os.Stdin, "The key for index %d is incorrect, please try again:\n")

	u, err := unpacker.Open(f, store)
	if err != nil {
		return err
	}
	if err := u.FSTable(); err != nil {
		return err
	}
	if err := u.TestRootdir(); err != nil {
		return err
	}

	hasMention := false
	for i := 0; i < len(args); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch args[i] {
		case "-p":
			if len(args)-i < 3 {
				return xerrors.Errorf("Wrong format!")
			}
			kix, err := strconv.ParseUint(args[i+1], 0, 32)
			if err != nil {
				return xerrors.Errorf("Error while parsing KEY: %w", err)
			}
			store.SetKey(uint32(kix), args[i+2])
			i += 2

		case "-s":
			u.Safe()

		default:
			hasMention = true
			if len(args)-i < 2 {
				return xerrors.Errorf("Wrong format!")
			}
			var fsid uint32
			if strings.HasPrefix(args[i], ":") {
				n, err := strconv.ParseUint(args[i][1:], 0, 32)
				if err != nil {
					return xerrors.Errorf("Error while parsing fsid: %w", err)
				}
				fsid = uint32(n)
			} else {
				fsid, err = u.DumpFSID(args[i])
				if err != nil {
					return err
				}
			}
			u.AddRoutine(fsid, args[i+1])
			i++
		}
	}

	if hasMention {
		if err := u.RunRoutines(); err != nil {
			return err
		}
	} else {
		if err := u.ExtractAll(); err != nil {
			return err
		}
	}
	return u.PostExtract()
}
