package scanmgr

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/nik9play/scanmgr/pkg/notify"
	"github.com/nik9play/scanmgr/pkg/scanmgr/util"
)

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for the config file
type CanonicalConfig struct {
	Language      string
	TWAIN         TWAINConfig
	Output        OutputConfig
	Notifications bool

	// Job comes from the command line only
	Job JobConfig

	logger   *zap.SugaredLogger
	notifier notify.Notifier

	path       string
	userConfig *viper.Viper
	flagConfig *viper.Viper

	// guards the exported fields against a reload from the watcher goroutine
	dataLock sync.RWMutex

	lock               sync.Mutex
	reloadConsumers    []chan bool
	stopWatcherChannel chan bool
}

// TWAINConfig is read once at startup
type TWAINConfig struct {
	DSMPath       string
	Manufacturer  string
	ProductFamily string
	ProductName   string
	VersionInfo   string
}

// OutputConfig applies to the next save after a reload
type OutputConfig struct {
	Directory   string
	JPEGQuality int
}

// JobConfig describes the document being scanned, or the document to view
type JobConfig struct {
	Person string
	Title  string
	Date   string
	Type   string
	View   string
}

// ErrMissingJob is returned when neither a document to view nor a complete job was given
var ErrMissingJob = errors.New("person, title and date are required")

const (
	// DefaultConfigFilepath is used when no config path is passed on the command line
	DefaultConfigFilepath = "config.yaml"

	configType = "yaml"

	configKeyLanguage           = "language"
	configKeyDSMPath            = "twain.dsm_path"
	configKeyAppManufacturer    = "twain.app.manufacturer"
	configKeyAppProductFamily   = "twain.app.product_family"
	configKeyAppProductName     = "twain.app.product_name"
	configKeyAppVersionInfo     = "twain.app.version_info"
	configKeyOutputDirectory    = "output.directory"
	configKeyOutputJPEGQuality  = "output.jpeg_quality"
	configKeyNotifications      = "notifications"
	configKeyJobPerson          = "person"
	configKeyJobTitle           = "title"
	configKeyJobDate            = "date"
	configKeyJobType            = "type"
	configKeyJobView            = "view"
	defaultLanguage             = "auto"
	defaultOutputDirectory      = "documents"
	defaultJPEGQuality          = 85
	defaultAppManufacturer      = "scanmgr"
	defaultAppProductFamily     = "Document capture"
	defaultAppProductName       = "scanmgr"
	defaultAppVersionInfo       = "1.0"
	defaultDocumentType         = "Scanned document"
	configReloadDebounceTimeout = 500 * time.Millisecond
	jobDateLayout               = "2006-01-02"
)

var supportedLanguages = []string{"auto", "en", "ru"}

// NewConfig creates a config instance for the scanmgr object and sets up viper instances for scanmgr's config files
func NewConfig(logger *zap.SugaredLogger, notifier notify.Notifier, path string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	if path == "" {
		path = DefaultConfigFilepath
	}

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		path:               path,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	userConfig := viper.New()
	userConfig.SetConfigFile(path)
	userConfig.SetConfigType(configType)

	userConfig.SetDefault(configKeyLanguage, defaultLanguage)
	userConfig.SetDefault(configKeyDSMPath, "")
	userConfig.SetDefault(configKeyAppManufacturer, defaultAppManufacturer)
	userConfig.SetDefault(configKeyAppProductFamily, defaultAppProductFamily)
	userConfig.SetDefault(configKeyAppProductName, defaultAppProductName)
	userConfig.SetDefault(configKeyAppVersionInfo, defaultAppVersionInfo)
	userConfig.SetDefault(configKeyOutputDirectory, defaultOutputDirectory)
	userConfig.SetDefault(configKeyOutputJPEGQuality, defaultJPEGQuality)
	userConfig.SetDefault(configKeyNotifications, true)

	cc.userConfig = userConfig
	cc.flagConfig = viper.New()

	logger.Debug("Created config instance")

	return cc, nil
}

// BindFlags makes the job flags visible to the config. They live in their own viper
// so that writing the default config file never persists them.
func (cc *CanonicalConfig) BindFlags(flags *pflag.FlagSet) error {
	for _, key := range []string{configKeyJobPerson, configKeyJobTitle, configKeyJobDate, configKeyJobType, configKeyJobView} {
		flag := flags.Lookup(key)
		if flag == nil {
			continue
		}

		if err := cc.flagConfig.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	return nil
}

// Path returns the config file location
func (cc *CanonicalConfig) Path() string {
	return cc.path
}

// Load reads the config file from disk and populates the config fields.
// A missing file is created with the defaults.
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.path)

	if !util.FileExists(cc.path) {
		cc.logger.Infow("Config file not found, writing defaults", "path", cc.path)

		if err := util.EnsureDirExists(filepath.Dir(cc.path)); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		if err := cc.userConfig.SafeWriteConfigAs(cc.path); err != nil {
			cc.logger.Warnw("Failed to write default config", "error", err)
			return fmt.Errorf("write default config: %w", err)
		}
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		return fmt.Errorf("read user config: %w", err)
	}

	cc.dataLock.Lock()
	cc.populateFromVipers()
	cc.dataLock.Unlock()

	cc.logger.Infow("Loaded config successfully",
		"language", cc.Language,
		"outputDirectory", cc.Output.Directory,
		"jpegQuality", cc.Output.JPEGQuality)

	return nil
}

// Snapshot returns a copy of the fields that may change on reload
func (cc *CanonicalConfig) Snapshot() (OutputConfig, bool) {
	cc.dataLock.RLock()
	defer cc.dataLock.RUnlock()

	return cc.Output, cc.Notifications
}

// CurrentJob returns the job given on the command line
func (cc *CanonicalConfig) CurrentJob() JobConfig {
	cc.dataLock.RLock()
	defer cc.dataLock.RUnlock()

	return cc.Job
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)

	cc.lock.Lock()
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	cc.lock.Unlock()

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen. It blocks until stopped.
func (cc *CanonicalConfig) WatchConfigFileChanges(localizer *i18n.Localizer) {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.path)

	var lastAttemptedReload time.Time

	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		// editors fire several writes per save
		now := time.Now()
		if lastAttemptedReload.Add(configReloadDebounceTimeout).After(now) {
			return
		}
		lastAttemptedReload = now

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)

			cc.notifier.Notify(
				localizer.MustLocalize(&i18n.LocalizeConfig{
					DefaultMessage: &i18n.Message{
						ID:    "ConfigReloadFailedTitle",
						Other: "Failed to reload configuration",
					},
				}),
				localizer.MustLocalize(&i18n.LocalizeConfig{
					DefaultMessage: &i18n.Message{
						ID:    "ConfigReloadFailedDescription",
						Other: "Please check the config file for errors",
					},
				}))

			return
		}

		cc.logger.Info("Reloaded config successfully")

		cc.notifier.Notify(
			localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "ConfigReloadedTitle",
					Other: "Configuration reloaded",
				},
			}),
			localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "ConfigReloadedDescription",
					Other: "Output settings apply to the next saved document",
				},
			}))

		cc.onConfigReloaded()
	})

	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	select {
	case cc.stopWatcherChannel <- true:
	default:
		// nobody is watching
	}
}

// Validate checks the job given on the command line
func (cc *CanonicalConfig) Validate() error {
	if cc.Job.View != "" {
		if !util.DirExists(cc.Job.View) {
			return fmt.Errorf("view document %s: not a directory", cc.Job.View)
		}

		return nil
	}

	if cc.Job.Person == "" || cc.Job.Title == "" || cc.Job.Date == "" {
		return ErrMissingJob
	}

	if _, err := time.Parse(jobDateLayout, cc.Job.Date); err != nil {
		return fmt.Errorf("parse date %q (want %s): %w", cc.Job.Date, jobDateLayout, err)
	}

	return nil
}

func (cc *CanonicalConfig) populateFromVipers() {
	v := cc.userConfig

	cc.Language = strings.ToLower(v.GetString(configKeyLanguage))
	if !funk.ContainsString(supportedLanguages, cc.Language) {
		cc.logger.Warnw("Unsupported language in config, using default",
			"language", cc.Language,
			"supported", supportedLanguages)
		cc.Language = defaultLanguage
	}

	cc.TWAIN = TWAINConfig{
		DSMPath:       v.GetString(configKeyDSMPath),
		Manufacturer:  v.GetString(configKeyAppManufacturer),
		ProductFamily: v.GetString(configKeyAppProductFamily),
		ProductName:   v.GetString(configKeyAppProductName),
		VersionInfo:   v.GetString(configKeyAppVersionInfo),
	}

	cc.Output = OutputConfig{
		Directory:   v.GetString(configKeyOutputDirectory),
		JPEGQuality: v.GetInt(configKeyOutputJPEGQuality),
	}

	if cc.Output.JPEGQuality < 1 || cc.Output.JPEGQuality > 100 {
		cc.logger.Warnw("JPEG quality out of range, using default",
			"quality", cc.Output.JPEGQuality,
			"default", defaultJPEGQuality)
		cc.Output.JPEGQuality = defaultJPEGQuality
	}

	if cc.Output.Directory == "" {
		cc.Output.Directory = defaultOutputDirectory
	}

	cc.Notifications = v.GetBool(configKeyNotifications)

	flags := cc.flagConfig
	cc.Job = JobConfig{
		Person: strings.TrimSpace(flags.GetString(configKeyJobPerson)),
		Title:  strings.TrimSpace(flags.GetString(configKeyJobTitle)),
		Date:   strings.TrimSpace(flags.GetString(configKeyJobDate)),
		Type:   strings.TrimSpace(flags.GetString(configKeyJobType)),
		View:   flags.GetString(configKeyJobView),
	}

	if cc.Job.Type == "" {
		cc.Job.Type = defaultDocumentType
	}

	cc.logger.Debug("Populated config fields from vipers")
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	cc.lock.Lock()
	defer cc.lock.Unlock()

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
			// consumer still has an unread reload pending
		}
	}
}
