// Package scanmgr is the desktop shell around the acquisition state machine: it
// builds a multi-page document from a scanner and stores it on disk.
package scanmgr

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jeandeaual/go-locale"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/nik9play/scanmgr/pkg/icon"
	"github.com/nik9play/scanmgr/pkg/notify"
	"github.com/nik9play/scanmgr/pkg/scanmgr/util"
	"github.com/nik9play/scanmgr/pkg/twain"
)

const (
	appName = "scanmgr"

	// when this is set to anything, scanmgr won't use a tray icon and scans once
	envNoTray = "SCANMGR_NO_TRAY_ICON"

	loopStopTimeout = 10 * time.Second
)

var errLoopTimeout = errors.New("timed out waiting for host loop")

// ErrAlreadySaved is returned when acquiring or saving after the document was stored
var ErrAlreadySaved = errors.New("document already saved")

// ScanManager is the main entity managing access to all sub-components
type ScanManager struct {
	logger    *zap.SugaredLogger
	notifier  *notify.DesktopNotifier
	config    *CanonicalConfig
	bundle    *i18n.Bundle
	localizer *i18n.Localizer

	mem     twain.Memory
	manager *twain.Manager
	pages   *PageList
	loop    hostLoop
	tray    *trayMenu

	stopChannel chan bool
	loopDone    chan struct{}
	version     string
	verbose     bool
	headless    bool

	lock         sync.Mutex
	lastDocument string
	saved        bool
}

//go:embed lang/active.*.toml
var langFS embed.FS

// NewScanManager creates a ScanManager instance
func NewScanManager(logger *zap.SugaredLogger, verbose bool, configPath string) (*ScanManager, error) {
	logger = logger.Named("scanmgr")

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	if _, err := bundle.LoadMessageFileFS(langFS, "lang/active.ru.toml"); err != nil {
		logger.Errorw("Failed to open ru message file", "error", err)
		return nil, fmt.Errorf("load message file: %w", err)
	}

	notifier, err := notify.NewDesktopNotifier(logger, appName, icon.Logo)
	if err != nil {
		logger.Errorw("Failed to create DesktopNotifier", "error", err)
		return nil, fmt.Errorf("create new DesktopNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier, configPath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	sm := &ScanManager{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		bundle:      bundle,
		localizer:   i18n.NewLocalizer(bundle, "en"),
		stopChannel: make(chan bool, 1),
		loopDone:    make(chan struct{}),
		verbose:     verbose,
	}

	logger.Debug("Created scanmgr instance")

	return sm, nil
}

// Config exposes the config so the command line can be bound to it before Initialize
func (sm *ScanManager) Config() *CanonicalConfig {
	return sm.config
}

// Initialize sets up components and starts to run in the background
func (sm *ScanManager) Initialize() error {
	sm.logger.Debug("Initializing")

	// load the config for the first time
	if err := sm.config.Load(); err != nil {
		sm.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	if err := sm.updateLocalizer(); err != nil {
		sm.logger.Errorw("Failed to update localizer", "error", err)
		return fmt.Errorf("update localizer: %w", err)
	}

	_, notifications := sm.config.Snapshot()
	sm.notifier.SetQuiet(!notifications)

	if err := sm.config.Validate(); err != nil {
		sm.logger.Errorw("Invalid job on the command line", "error", err)
		return fmt.Errorf("validate job: %w", err)
	}

	// viewing a stored document needs neither the scanner nor the tray
	if view := sm.config.Job.View; view != "" {
		sm.logger.Infow("Opening document for viewing", "path", view)
		return util.OpenExternal(sm.logger, view)
	}

	if err := ensureSingleInstance(sm.logger); err != nil {
		return err
	}

	if err := sm.initializeAcquisition(); err != nil {
		sm.logger.Errorw("Failed to set up acquisition", "error", err)
		return fmt.Errorf("init acquisition: %w", err)
	}

	sm.setupInterruptHandler()

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet {
		sm.logger.Debugw("Running without tray icon", "reason", "envvar set")

		sm.headless = true
		sm.run()
	} else {
		sm.initializeTray(sm.run)
	}

	return nil
}

func (sm *ScanManager) initializeAcquisition() error {
	twainConfig := sm.config.TWAIN

	sm.mem = twain.NewSystemMemory()
	sm.pages = NewPageList(sm.logger, sm.mem)
	sm.pages.OnBatchComplete(sm.onBatchComplete)

	app := appIdentity(twainConfig)

	manager, err := twain.NewManager(sm.logger, twain.NewLoader(sm.logger, twainConfig.DSMPath), sm.mem, app, sm.pages)
	if err != nil {
		return fmt.Errorf("create acquisition manager: %w", err)
	}

	sm.manager = manager

	loop, err := newHostLoop(sm.logger)
	if err != nil {
		return fmt.Errorf("create host loop: %w", err)
	}

	sm.loop = loop

	return nil
}

// appIdentity describes scanmgr to the driver manager
func appIdentity(cfg TWAINConfig) twain.Identity {
	return twain.Identity{
		Version: twain.Version{
			MajorNum: 1,
			Language: twain.LanguageUSA,
			Country:  twain.CountryUSA,
			Info:     cfg.VersionInfo,
		},
		ProtocolMajor:   twain.ProtocolMajor,
		ProtocolMinor:   twain.ProtocolMinor,
		SupportedGroups: twain.SupportedImage,
		Manufacturer:    cfg.Manufacturer,
		ProductFamily:   cfg.ProductFamily,
		ProductName:     cfg.ProductName,
	}
}

func (sm *ScanManager) updateLocalizer() error {
	lang := sm.config.Language
	if lang == "auto" {
		var err error
		lang, err = locale.GetLanguage()

		if err != nil {
			sm.logger.Errorw("Failed to get system locale", "error", err)
			return fmt.Errorf("get system locale: %w", err)
		}
	}

	sm.logger.Infof("Selected language: %s", lang)
	sm.localizer = i18n.NewLocalizer(sm.bundle, lang, "en")

	return nil
}

func (sm *ScanManager) localize(id string, other string) string {
	return sm.localizer.MustLocalize(&i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{
			ID:    id,
			Other: other,
		},
	})
}

// SetVersion causes scanmgr to add a version string to its tray menu if called before Initialize
func (sm *ScanManager) SetVersion(version string) {
	sm.version = version
}

// Verbose returns a boolean indicating whether scanmgr is running in verbose mode
func (sm *ScanManager) Verbose() bool {
	return sm.verbose
}

func (sm *ScanManager) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		sm.logger.Debugw("Interrupted", "signal", signal)
		sm.signalStop()
	}()
}

func (sm *ScanManager) run() {
	sm.logger.Info("Run loop starting")

	// watch the config file for changes
	go sm.config.WatchConfigFileChanges(sm.localizer)
	go sm.watchReloads(sm.config.SubscribeToChanges())

	go func() {
		defer close(sm.loopDone)

		if err := sm.loop.Run(sm.manager.CheckEvent); err != nil {
			sm.logger.Errorw("Host loop failed", "error", err)
		}
	}()

	sm.post(sm.startSession)

	if sm.headless {
		sm.post(sm.selectSource)
		sm.post(sm.acquire)
	}

	// wait until stopped (gracefully)
	select {
	case <-sm.stopChannel:
		sm.logger.Debug("Stop channel signaled, terminating")
	case <-sm.loopDone:
		sm.logger.Warn("Host loop exited, terminating")
	}

	if err := sm.stop(); err != nil {
		sm.logger.Warnw("Failed to stop scanmgr", "error", err)
		os.Exit(1)
	}

	// exit with 0
	os.Exit(0)
}

func (sm *ScanManager) watchReloads(reloads chan bool) {
	for range reloads {
		_, notifications := sm.config.Snapshot()
		sm.notifier.SetQuiet(!notifications)

		sm.logger.Debugw("Applied reloaded settings", "notifications", notifications)
	}
}

func (sm *ScanManager) signalStop() {
	sm.logger.Debug("Signalling stop channel")

	select {
	case sm.stopChannel <- true:
	default:
		// already stopping
	}
}

func (sm *ScanManager) stop() error {
	sm.logger.Info("Stopping")

	sm.config.StopWatchingConfigFile()

	stopErr := sm.stopLoop(sm.shutdownSession, loopStopTimeout)

	if sm.tray != nil {
		sm.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = sm.logger.Sync()

	return stopErr
}

// stopLoop runs shutdown on the loop thread and stops the loop, waiting at most
// timeout for both
func (sm *ScanManager) stopLoop(shutdown func() error, timeout time.Duration) error {
	select {
	case <-sm.loopDone:
		// nothing else touches the session once the loop is gone
		return shutdown()
	default:
	}

	result := make(chan error, 1)

	if err := sm.loop.Post(func() { result <- shutdown() }); err != nil {
		sm.logger.Warnw("Failed to post session shutdown", "error", err)
		result <- err
	}

	sm.loop.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sm.loopDone:
	case <-timer.C:
		sm.logger.Warn("Timed out waiting for host loop")
		return errLoopTimeout
	}

	select {
	case err := <-result:
		return err
	default:
		// the loop exited without running the shutdown
		return nil
	}
}

// post queues fn on the host loop, where every acquisition call must run
func (sm *ScanManager) post(fn func()) {
	if err := sm.loop.Post(fn); err != nil {
		sm.logger.Warnw("Failed to post to host loop", "error", err)
	}
}

func (sm *ScanManager) startSession() {
	if err := sm.manager.Load(); err != nil {
		sm.reportFailure(err)
		return
	}

	if err := sm.manager.Open(sm.loop.Window()); err != nil {
		sm.reportFailure(err)
	}
}

func (sm *ScanManager) shutdownSession() error {
	var errs []error

	if err := sm.manager.Shutdown(sm.loop.Window()); err != nil {
		sm.logger.Warnw("Failed to shut down acquisition session", "error", err)
		errs = append(errs, fmt.Errorf("shut down session: %w", err))
	}

	if err := sm.pages.Clear(); err != nil {
		sm.logger.Warnw("Failed to release pages", "error", err)
		errs = append(errs, fmt.Errorf("release pages: %w", err))
	}

	return errors.Join(errs...)
}

// ensureSession reopens the driver manager if it failed to load earlier,
// for example before a driver was installed
func (sm *ScanManager) ensureSession() error {
	if err := sm.manager.Load(); err != nil {
		return err
	}

	return sm.manager.Open(sm.loop.Window())
}

func (sm *ScanManager) selectSource() {
	if err := sm.ensureSession(); err != nil {
		sm.reportFailure(err)
		return
	}

	if err := sm.manager.SelectSource(); err != nil {
		sm.reportFailure(err)
		return
	}

	sm.logger.Infow("Current source", "source", sm.manager.SelectedSource())
}

func (sm *ScanManager) acquire() {
	if sm.isSaved() {
		sm.reportFailure(ErrAlreadySaved)
		return
	}

	err := sm.ensureSession()
	if err == nil {
		err = sm.manager.Acquire(sm.loop.Window())
	}

	if err != nil {
		sm.reportFailure(err)

		if sm.headless {
			sm.signalStop()
		}
	}
}

// onBatchComplete runs on the loop thread from inside CheckEvent
func (sm *ScanManager) onBatchComplete(delivered int, err error) {
	sm.logger.Infow("Pages acquired", "delivered", delivered, "total", sm.pages.Len())

	if sm.tray != nil {
		sm.tray.refresh(sm.pages.Len(), sm.isSaved(), sm.lastSaved())
	}

	if err != nil {
		sm.reportFailure(err)
	}

	if sm.headless {
		// the source stays enabled; saving from here is fine since only the sink is involved
		if sm.pages.Len() > 0 {
			sm.save()
		}

		sm.signalStop()
	}
}

func (sm *ScanManager) save() {
	path, err := sm.saveDocument()
	if err != nil {
		sm.reportFailure(err)
		return
	}

	sm.notifier.Notify(
		sm.localize("DocumentSavedTitle", "Document saved"),
		path)

	if sm.tray != nil {
		sm.tray.refresh(sm.pages.Len(), true, path)
	}
}

func (sm *ScanManager) saveDocument() (string, error) {
	if sm.isSaved() {
		return "", ErrAlreadySaved
	}

	job := sm.config.CurrentJob()

	received, err := time.Parse(jobDateLayout, job.Date)
	if err != nil {
		return "", fmt.Errorf("parse received date: %w", err)
	}

	images, err := sm.pages.Images()
	if err != nil {
		return "", fmt.Errorf("decode pages: %w", err)
	}

	output, _ := sm.config.Snapshot()
	writer := NewDocumentWriter(sm.logger, output.Directory, output.JPEGQuality)

	path, err := writer.Write(Document{
		Person:   job.Person,
		Title:    job.Title,
		Received: received,
		Type:     job.Type,
	}, images)
	if err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}

	sm.lock.Lock()
	sm.saved = true
	sm.lastDocument = path
	sm.lock.Unlock()

	if err := sm.pages.Clear(); err != nil {
		sm.logger.Warnw("Failed to release saved pages", "error", err)
	}

	return path, nil
}

func (sm *ScanManager) clear() {
	if err := sm.pages.Clear(); err != nil {
		sm.logger.Warnw("Failed to clear pages", "error", err)
	}

	if sm.tray != nil {
		sm.tray.refresh(0, sm.isSaved(), sm.lastSaved())
	}
}

func (sm *ScanManager) openLast() {
	path := sm.lastSaved()
	if path == "" {
		return
	}

	if err := util.OpenExternal(sm.logger, path); err != nil {
		sm.logger.Warnw("Failed to open saved document", "path", path, "error", err)
	}
}

func (sm *ScanManager) isSaved() bool {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.saved
}

func (sm *ScanManager) lastSaved() string {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.lastDocument
}

// reportFailure logs err and shows it in one advisory dialog. User cancels are not shown.
func (sm *ScanManager) reportFailure(err error) {
	if errors.Is(err, twain.ErrCancelled) {
		sm.logger.Infow("Cancelled by user", "error", err)
		return
	}

	sm.logger.Warnw("Operation failed", "error", err)

	sm.notifier.Alert(sm.localize("ScanFailedTitle", "Scanning failed"), sm.failureMessage(err))
}

func (sm *ScanManager) failureMessage(err error) string {
	var statusErr *twain.StatusError

	switch {
	case errors.Is(err, twain.ErrUnavailable):
		return sm.localize("DriverUnavailableDescription",
			"The TWAIN driver manager could not be loaded. Install the scanner driver and try again.")

	case errors.Is(err, twain.ErrNotSelected):
		return sm.localize("NoSourceDescription", "Select a scanner first.")

	case errors.Is(err, ErrAlreadySaved):
		return sm.localize("AlreadySavedDescription", "The document has already been saved.")

	case errors.Is(err, ErrNoPages):
		return sm.localize("NoPagesDescription", "There are no pages to save.")

	case errors.As(err, &statusErr):
		return statusErr.Diagnostic()

	default:
		return err.Error()
	}
}
