// Command mkar packs and extracts MKAR archives.
package main

import (
	"fmt"
	"os"

	"github.com/mkar-fmt/mkar"
)

var debug = false

func funcmain() error {
	args := os.Args[1:]
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	archive, method, rest := args[0], args[1], args[2:]

	ctx, canc := mkar.InterruptibleContext()
	defer canc()

	var err error
	switch method {
	case "e":
		err = cmdEncode(ctx, archive, rest)
	case "d":
		err = cmdDecode(ctx, archive, rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown operation type!\n")
		os.Exit(1)
	}
	return err
}

func usage() {
	fmt.Fprintln(os.Stderr, "mkar <archive> e [options] <paths...>")
	fmt.Fprintln(os.Stderr, "mkar <archive> d [options] [(<path>|:<fsid>) <dest>]...")
}

func main() {
	if err := funcmain(); err != nil {
		if debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}
