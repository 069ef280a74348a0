//go:build !windows

package scanmgr

import "go.uber.org/zap"

func newHostLoop(logger *zap.SugaredLogger) (hostLoop, error) {
	return newChanLoop(logger), nil
}
