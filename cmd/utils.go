package cmd

import (
	"errors"
	"fmt"
	"os"
)

var ErrConfigIsDir = errors.New("config path is a directory")

// CheckConfigFile makes sure path names a regular file the federator can read.
func CheckConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrConfigIsDir)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
