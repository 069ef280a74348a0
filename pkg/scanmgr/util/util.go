package util

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// OpenExternal opens a file or directory using the default associated program
func OpenExternal(logger *zap.SugaredLogger, filename string) error {
	command := getOpenExternalCommand(filename)

	if err := command.Run(); err != nil {
		logger.Warnw("Failed to open file",
			"filename", filename,
			"error", err)
		return fmt.Errorf("open file proc: %w", err)
	}

	return nil
}

// EnsureDirExists creates the given directory path if it doesn't already exist
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}

	return nil
}

// FileExists checks if a file exists and is not a directory before we
// try using it to prevent further errors.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Windows returns true if we're running on Windows
func Windows() bool {
	return runtime.GOOS == "windows"
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// WriteFileAtomic writes a file through write and moves it into place only once it is complete
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	return writeFileAtomic(path, write)
}
