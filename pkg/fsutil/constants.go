package fsutil

import "os"

const (
	// DirModeSecure is the permission set for directories created by coursedl.
	DirModeSecure os.FileMode = 0o750
	// FileModeSecure is the permission set for files written by coursedl.
	FileModeSecure os.FileMode = 0o640
)
