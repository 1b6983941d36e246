// Package mkar provides process-wide glue shared by the mkar command line
// tool: an interruptible root context.
package mkar
