//go:build !windows

package platform

// ToPlatformPath is a no-op: only Windows has a path-length limit that
// needs working around.
func ToPlatformPath(path string) string { return path }
