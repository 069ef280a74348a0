//go:build !windows

package notify

import (
	"fmt"

	"github.com/gen2brain/beeep"
)

func alert(caption, message, iconPath string) error {
	if err := beeep.Alert(caption, message, iconPath); err != nil {
		return fmt.Errorf("beeep alert: %w", err)
	}

	return nil
}
