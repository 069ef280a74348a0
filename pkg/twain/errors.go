package twain

import (
	"errors"
	"fmt"
)

// Acquisition errors.
var (
	// ErrUnavailable indicates the driver manager module could not be loaded.
	// It is not fatal; loading may be retried after a driver is installed.
	ErrUnavailable = errors.New("driver manager unavailable")

	// ErrSequence indicates an operation was invoked in the wrong stage
	ErrSequence = errors.New("protocol sequence error")

	// ErrNegotiationRejected indicates the device refused a capability
	ErrNegotiationRejected = errors.New("capability negotiation rejected")

	// ErrTransferAborted indicates a batch ended early. Images already delivered stay valid.
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrCancelled indicates the user cancelled in driver UI. Callers treat it as benign.
	ErrCancelled = errors.New("cancelled by user")

	// ErrFailed indicates the driver answered a call with a failure code
	ErrFailed = errors.New("driver call failed")

	// ErrNotSelected indicates no source has been picked yet
	ErrNotSelected = errors.New("no source selected")

	// ErrNoContainer indicates the driver returned no capability container
	ErrNoContainer = errors.New("driver returned no capability container")
)

// StatusError carries the driver diagnostics for a failed call
type StatusError struct {
	Op        string
	Code      ReturnCode
	Condition ConditionCode
	Err       error
}

func (e *StatusError) Error() string {
	if e.Condition == CCSuccess {
		return fmt.Sprintf("%s: %s (rc %s)", e.Op, e.Err, e.Code)
	}

	return fmt.Sprintf("%s: %s (rc %s, %s)", e.Op, e.Err, e.Code, e.Condition)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Diagnostic returns a short human readable explanation of the condition,
// suitable for an advisory dialog
func (e *StatusError) Diagnostic() string {
	switch e.Condition {
	case CCBadCap, CCCapUnsupported, CCCapBadOperation, CCCapSeqError:
		return "The scanner cannot set the transfer count."
	case CCBadDest:
		return "The source is not open, check the scanner connection."
	case CCBadValue:
		return "The scanner rejected the transfer count value."
	case CCSeqError:
		return "The scanner reported a protocol sequence error."
	case CCLowMemory:
		return "The scanner driver ran out of memory."
	case CCNoDS, CCMaxConnections:
		return "The scanner could not be opened, check the device."
	default:
		return "The scanner reported an error."
	}
}
