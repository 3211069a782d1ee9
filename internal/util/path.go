package util

import (
	"fmt"
	"os"
)

// CheckDirectory reports whether path exists and whether it names a directory.
func CheckDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// CheckFile verifies that path names an existing regular file. A missing
// path and a directory produce distinct errors so callers can report them
// precisely.
func CheckFile(path string) error {
	exists, isDir, err := CheckDirectory(path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if !exists {
		return fmt.Errorf("no such file: %s", path)
	}
	if isDir {
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	return nil
}
