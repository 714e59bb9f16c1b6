// Package fsutil moves artifacts between staging directories.
//
// Every operation goes through a vfs.FS so that the pipeline can be exercised against
// vfst test filesystems. Directory creation tolerates existing directories everywhere,
// so that a run can be repeated after a partial failure.
package fsutil
