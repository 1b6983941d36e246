//go:build windows

package platform

import (
	"path/filepath"
	"strings"
)

// ToPlatformPath rewrites path to an absolute, extended-length form
// (\\?\...  or \\?\UNC\...) so that APIs built on it aren't bound by
// MAX_PATH. If path can't be made absolute, it is returned unchanged.
func ToPlatformPath(path string) string {
	if strings.HasPrefix(path, `\\?\`) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(abs, `\\`) {
		return `\\?\UNC\` + abs[2:]
	}
	return `\\?\` + abs
}
