package main

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/mkar-fmt/mkar/internal/container"
	"github.com/mkar-fmt/mkar/internal/mask"
	"github.com/mkar-fmt/mkar/internal/packer"
)

// cmdEncode implements mode "e": pack the given paths into archive.
func cmdEncode(ctx context.Context, archive string, args []string) error {
	f, err := os.Create(archive)
	if err != nil {
		return xerrors.Errorf("create %s: %w", archive, err)
	}
	defer f.Close()

	// Fresh archives always pack at version 2; 0 and 1 only ever appear as
	// something an existing archive was already written with.
	p, err := packer.New(f, mask.V2)
	if err != nil {
		return err
	}

	hasEachE, hasAllE, hasEachC, hasAllC := false, false, false, false

	for i := 0; i < len(args); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch args[i] {
		case "-e":
			if len(args)-i < 3 || hasAllE {
				return xerrors.Errorf("Wrong format!")
			}
			kix, err := strconv.ParseUint(args[i+2], 0, 32)
			if err != nil {
				return xerrors.Errorf("Error while parsing KIX: %w", err)
			}
			if err := p.SetKix(args[i+1], uint32(kix)); err != nil {
				return err
			}
			p.AddProp(args[i+1], container.PropEncrypted)
			i += 2
			hasEachE = true

		case "-E":
			if hasAllE || hasEachE {
				return xerrors.Errorf("Wrong format!")
			}
			p.MaskProp(container.PropEncrypted)
			hasAllE = true

		case "-l":
			if len(args)-i < 2 {
				return xerrors.Errorf("Wrong format!")
			}
			p.AddProp(args[i+1], container.PropSymlink)
			i++

		case "-s":
			if len(args)-i < 3 {
				return xerrors.Errorf("Wrong format!")
			}
			pri, err := strconv.ParseUint(args[i+2], 0, 32)
			if err != nil {
				return xerrors.Errorf("Error while parsing ExecPri: %w", err)
			}
			if err := p.SetExecPri(args[i+1], uint32(pri)); err != nil {
				return err
			}
			p.AddProp(args[i+1], container.PropScript)
			i += 2

		case "-n":
			if len(args)-i < 2 {
				return xerrors.Errorf("Wrong format!")
			}
			p.AddProp(args[i+1], container.PropNetwork)
			i++

		case "-r1":
			if len(args)-i < 2 {
				return xerrors.Errorf("Wrong format!")
			}
			p.AddProp(args[i+1], container.PropRootdir)
			i++

		case "-r0":
			if len(args)-i < 2 {
				return xerrors.Errorf("Wrong format!")
			}
			if err := p.AddRoutine(args[i+1], false); err != nil {
				return err
			}
			i++

		case "-c":
			if len(args)-i < 2 || hasAllC {
				return xerrors.Errorf("Wrong format!")
			}
			p.AddProp(args[i+1], container.PropCompressed)
			i++
			hasEachC = true

		case "-C":
			if hasEachC || hasAllC {
				return xerrors.Errorf("Wrong format!")
			}
			p.MaskProp(container.PropCompressed)
			hasAllC = true

		case "-p":
			if len(args)-i < 3 {
				return xerrors.Errorf("Wrong format!")
			}
			kix, err := strconv.ParseUint(args[i+1], 0, 32)
			if err != nil {
				return xerrors.Errorf("Error while parsing KEY: %w", err)
			}
			if err := p.SetKey(uint32(kix), args[i+2]); err != nil {
				return err
			}
			i += 2

		default:
			if err := p.AddRoutine(args[i], true); err != nil {
				return err
			}
		}
	}

	if err := p.RunRoutines(); err != nil {
		return err
	}
	return p.FSTable()
}
