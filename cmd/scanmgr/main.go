package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/nik9play/scanmgr/pkg/scanmgr"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	configPath string
	verbose    bool
)

func main() {
	flags := pflag.NewFlagSet("scanmgr", pflag.ExitOnError)

	flags.StringVarP(&configPath, "config", "c", scanmgr.DefaultConfigFilepath, "path to the config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "show verbose logs (useful for debugging)")
	flags.String("person", "", "person the document was received from")
	flags.String("title", "", "document title")
	flags.String("date", "", "date the document was received (YYYY-MM-DD)")
	flags.String("type", "", "document type")
	flags.String("view", "", "open a saved document directory instead of scanning")

	_ = flags.Parse(os.Args[1:])

	// first we need a logger
	logger, err := scanmgr.NewLogger(buildType)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	// provide a fair warning if the user's running in verbose mode
	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	// create the scanmgr instance
	sm, err := scanmgr.NewScanManager(logger, verbose, configPath)
	if err != nil {
		named.Fatalw("Failed to create scanmgr object", "error", err)
	}

	if err := sm.Config().BindFlags(flags); err != nil {
		named.Fatalw("Failed to bind command line flags", "error", err)
	}

	// if injected by build process, set version info to show up in the tray
	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		sm.SetVersion(versionString)
	}

	// onwards, to glory
	if err = sm.Initialize(); err != nil {
		named.Fatalw("Failed to initialize scanmgr", "error", err)
	}
}
