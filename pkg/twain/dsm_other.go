//go:build !windows

package twain

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

type unavailableLoader struct {
	logger *zap.SugaredLogger
}

// NewLoader returns a Loader that always reports the driver manager as unavailable,
// since there is no TWAIN driver manager binding for this platform
func NewLoader(logger *zap.SugaredLogger, _ string) Loader {
	return &unavailableLoader{logger: logger.Named("dsm")}
}

func (l *unavailableLoader) Load() (EntryPoint, error) {
	l.logger.Debugw("No driver manager binding", "os", runtime.GOOS)
	return nil, fmt.Errorf("no driver manager binding for %s", runtime.GOOS)
}

func (l *unavailableLoader) Unload() error {
	return nil
}

// NewSystemMemory returns a process-local Memory
func NewSystemMemory() Memory {
	return NewHeapMemory()
}
