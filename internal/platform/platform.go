// Package platform normalizes file paths for the current OS before they
// reach a filesystem call, so callers in packer and unpacker never have to
// special-case Windows' path-length limit themselves.
package platform
