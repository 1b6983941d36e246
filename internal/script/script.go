// Package script defines the post-extract script execution hook. The
// embedded scripting language itself is out of scope; this package only
// provides the process-global registration point the unpacker calls
// through, the same shape as an embedding host's RunPostScript wiring.
package script

import "golang.org/x/xerrors"

// Runner executes the script source src, which was extracted to the
// filesystem at title, and reports any failure.
type Runner func(src, title string) error

var runner Runner

// Register installs the process-wide script runner. Calling it twice is a
// configuration error: the unpacker should only ever have one embedding
// host wired in.
func Register(r Runner) error {
	if runner != nil {
		return xerrors.Errorf("script: runner already registered")
	}
	runner = r
	return nil
}

// Run invokes the registered runner. If none was registered, script entries
// cannot be executed and Run reports an error rather than silently
// discarding the script.
func Run(src, title string) error {
	if runner == nil {
		return xerrors.Errorf("script: no runner registered, cannot execute %q", title)
	}
	return runner(src, title)
}
