package scanmgr

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-ps"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when another acquisition instance owns the scanner
var ErrAlreadyRunning = errors.New("another instance is already running")

// ensureSingleInstance fails if another process runs the same executable.
// Only one process can drive a scanner at a time.
func ensureSingleInstance(logger *zap.SugaredLogger) error {
	self := os.Getpid()

	me, err := ps.FindProcess(self)
	if err != nil || me == nil {
		// can't tell who we are, don't block startup over it
		logger.Warnw("Failed to find own process", "pid", self, "error", err)
		return nil
	}

	processes, err := ps.Processes()
	if err != nil {
		logger.Warnw("Failed to list processes", "error", err)
		return nil
	}

	others := findOtherInstances(processes, self, me.Executable())
	if len(others) > 0 {
		logger.Warnw("Found other running instances", "pids", others)
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, others[0])
	}

	return nil
}

// findOtherInstances returns the pids of processes other than self running exe
func findOtherInstances(processes []ps.Process, self int, exe string) []int {
	matching := funk.Filter(processes, func(p ps.Process) bool {
		return p.Pid() != self && strings.EqualFold(p.Executable(), exe)
	}).([]ps.Process)

	return funk.Map(matching, func(p ps.Process) int {
		return p.Pid()
	}).([]int)
}
