package notify

import (
	"fmt"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

// alert shows a modal message box. It blocks until the user dismisses it.
func alert(caption, message, _ string) error {
	text, err := windows.UTF16PtrFromString(message)
	if err != nil {
		return fmt.Errorf("encode alert text: %w", err)
	}

	title, err := windows.UTF16PtrFromString(caption)
	if err != nil {
		return fmt.Errorf("encode alert caption: %w", err)
	}

	if win.MessageBox(0, text, title, win.MB_OK|win.MB_ICONWARNING|win.MB_TOPMOST|win.MB_SETFOREGROUND) == 0 {
		return fmt.Errorf("message box: %w", windows.GetLastError())
	}

	return nil
}
