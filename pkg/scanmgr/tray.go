package scanmgr

import (
	"github.com/getlantern/systray"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/nik9play/scanmgr/pkg/icon"
)

// trayMenu holds the menu items whose state follows the document
type trayMenu struct {
	localizer *i18n.Localizer

	acquire  *systray.MenuItem
	save     *systray.MenuItem
	clear    *systray.MenuItem
	pages    *systray.MenuItem
	openLast *systray.MenuItem
}

func (sm *ScanManager) initializeTray(onDone func()) {
	logger := sm.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.Logo, icon.Logo)
		systray.SetTitle(appName)
		systray.SetTooltip(sm.localize("TrayTooltip", "Document scanning"))

		selectSource := systray.AddMenuItem(
			sm.localize("SelectSourceTitle", "Select scanner..."),
			sm.localize("SelectSourceDescription", "Choose the scanner to acquire from"))

		menu := &trayMenu{localizer: sm.localizer}

		menu.acquire = systray.AddMenuItem(
			sm.localize("AcquireTitle", "Scan pages"),
			sm.localize("AcquireDescription", "Acquire pages from the selected scanner"))

		menu.save = systray.AddMenuItem(
			sm.localize("SaveTitle", "Save document"),
			sm.localize("SaveDescription", "Store the scanned pages as a document"))

		menu.clear = systray.AddMenuItem(
			sm.localize("ClearTitle", "Discard pages"),
			sm.localize("ClearDescription", "Drop every scanned page"))

		systray.AddSeparator()

		menu.pages = systray.AddMenuItem("", "")
		menu.pages.Disable()

		menu.openLast = systray.AddMenuItem(
			sm.localize("OpenLastTitle", "Open saved document"),
			sm.localize("OpenLastDescription", "Show the saved document folder"))

		if sm.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(sm.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()

		quit := systray.AddMenuItem(
			sm.localize("QuitTitle", "Quit"),
			sm.localize("QuitDescription", "Stop scanmgr and quit"))

		sm.tray = menu
		menu.refresh(0, false, "")

		// wait on things to happen
		go func() {
			for {
				select {

				// quit
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					sm.signalStop()

				// driver dialogs belong to the loop thread, so everything else is posted there
				case <-selectSource.ClickedCh:
					logger.Info("Select source menu item clicked")
					sm.post(sm.selectSource)

				case <-menu.acquire.ClickedCh:
					logger.Info("Acquire menu item clicked")
					sm.post(sm.acquire)

				case <-menu.save.ClickedCh:
					logger.Info("Save menu item clicked")
					sm.post(sm.save)

				case <-menu.clear.ClickedCh:
					logger.Info("Clear menu item clicked")
					sm.post(sm.clear)

				case <-menu.openLast.ClickedCh:
					logger.Info("Open last document menu item clicked")
					sm.openLast()
				}
			}
		}()

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

// refresh updates the menu after the page list or the saved state changed
func (tm *trayMenu) refresh(pages int, saved bool, lastDocument string) {
	tm.pages.SetTitle(tm.localizer.MustLocalize(&i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{
			ID:    "PageCount",
			One:   "{{.Count}} page",
			Other: "{{.Count}} pages",
		},
		PluralCount: pages,
		TemplateData: map[string]int{
			"Count": pages,
		},
	}))

	// a saved document is final
	setEnabled(tm.acquire, !saved)
	setEnabled(tm.save, !saved && pages > 0)
	setEnabled(tm.clear, pages > 0)
	setEnabled(tm.openLast, lastDocument != "")
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

func (sm *ScanManager) stopTray() {
	sm.logger.Debug("Quitting tray")
	systray.Quit()
}
