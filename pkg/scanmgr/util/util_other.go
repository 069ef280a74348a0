//go:build !windows

package util

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/google/renameio/v2"
)

func getOpenExternalCommand(filename string) *exec.Cmd {
	if runtime.GOOS == "darwin" {
		return exec.Command("open", filename)
	}

	return exec.Command("xdg-open", filename)
}

func writeFileAtomic(path string, write func(w io.Writer) error) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}

	// no-op once the file is committed
	defer func() { _ = pendingFile.Cleanup() }()

	if err := write(pendingFile); err != nil {
		return err
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}

	return nil
}
