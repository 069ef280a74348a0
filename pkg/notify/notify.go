// Package notify shows desktop notifications and advisory dialogs
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier reports things to the user outside of the tray menu
type Notifier interface {
	// Notify shows a passive notification
	Notify(title string, message string)

	// Alert shows an advisory dialog the user has to acknowledge
	Alert(title string, message string)
}

// DesktopNotifier shows toasts through beeep and alerts through the native dialog
type DesktopNotifier struct {
	logger      *zap.SugaredLogger
	appName     string
	appIconPath string

	quiet atomic.Bool
}

// NewDesktopNotifier creates a DesktopNotifier. The icon is written to the temp
// directory since the notification backends want a file path.
func NewDesktopNotifier(logger *zap.SugaredLogger, appName string, icon []byte) (*DesktopNotifier, error) {
	logger = logger.Named("notifier")

	dn := &DesktopNotifier{
		logger:  logger,
		appName: appName,
	}

	if len(icon) > 0 {
		iconPath := filepath.Join(os.TempDir(), appName+".ico")

		if err := os.WriteFile(iconPath, icon, 0o644); err != nil {
			logger.Warnw("Failed to write notification icon", "path", iconPath, "error", err)
		} else {
			dn.appIconPath = iconPath
		}
	}

	logger.Debug("Created desktop notifier instance")

	return dn, nil
}

// SetQuiet suppresses Notify. Alerts are always shown.
func (dn *DesktopNotifier) SetQuiet(quiet bool) {
	dn.quiet.Store(quiet)
}

func (dn *DesktopNotifier) Notify(title string, message string) {
	if dn.quiet.Load() {
		dn.logger.Debugw("Notification suppressed", "title", title)
		return
	}

	if err := beeep.Notify(title, message, dn.appIconPath); err != nil {
		dn.logger.Errorw("Failed to send notification", "error", err)
	}
}

func (dn *DesktopNotifier) Alert(title string, message string) {
	dn.logger.Infow("Showing alert", "title", title, "message", message)

	if err := alert(dn.caption(title), message, dn.appIconPath); err != nil {
		dn.logger.Errorw("Failed to show alert", "error", err)
	}
}

func (dn *DesktopNotifier) caption(title string) string {
	if title == "" {
		return dn.appName
	}

	return fmt.Sprintf("%s - %s", dn.appName, title)
}
