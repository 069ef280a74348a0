package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

func getOpenExternalCommand(filename string) *exec.Cmd {
	return exec.Command(filepath.Join(os.Getenv("SYSTEMROOT"), "System32", "rundll32.exe"), "url.dll,FileProtocolHandler", filename)
}

// renameio has no Windows support; os.Rename maps to MoveFileEx with MOVEFILE_REPLACE_EXISTING
func writeFileAtomic(path string, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync pending file: %w", err)
	}

	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close pending file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}

	return nil
}
