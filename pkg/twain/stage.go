package twain

import "fmt"

// Stage is the position of a session in the acquisition protocol
type Stage int

const (
	// StageUnloaded means no driver manager module is loaded
	StageUnloaded Stage = iota
	// StageLoaded means the entry point is resolved but the manager is closed
	StageLoaded
	// StageManagerOpen means the manager connection is open and no source is bound
	StageManagerOpen
	// StageSourceOpen means a source is open and its capabilities are not negotiated
	StageSourceOpen
	// StageCapsNegotiated means the transfer count has been agreed on
	StageCapsNegotiated
	// StageSourceEnabled means the source UI is up and events are being forwarded
	StageSourceEnabled
	// StageTransferActive means an image batch is being pulled from the source
	StageTransferActive
)

func (s Stage) String() string {
	switch s {
	case StageUnloaded:
		return "unloaded"
	case StageLoaded:
		return "loaded"
	case StageManagerOpen:
		return "manager-open"
	case StageSourceOpen:
		return "source-open"
	case StageCapsNegotiated:
		return "caps-negotiated"
	case StageSourceEnabled:
		return "source-enabled"
	case StageTransferActive:
		return "transfer-active"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// legal single-step transitions
var transitions = map[Stage][]Stage{
	StageUnloaded:       {StageLoaded},
	StageLoaded:         {StageUnloaded, StageManagerOpen},
	StageManagerOpen:    {StageLoaded, StageSourceOpen},
	StageSourceOpen:     {StageManagerOpen, StageCapsNegotiated},
	StageCapsNegotiated: {StageSourceOpen, StageSourceEnabled},
	StageSourceEnabled:  {StageCapsNegotiated, StageTransferActive},
	StageTransferActive: {StageSourceEnabled},
}

// CanTransition reports whether moving from one stage to another is a legal single step
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// CanForceClose reports whether a stage may collapse directly to StageManagerOpen
func CanForceClose(from Stage) bool {
	return from >= StageSourceOpen && from <= StageTransferActive
}
