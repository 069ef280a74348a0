package twain

import (
	"errors"
	"fmt"
)

// errSessionGone stops a batch when the sink tore the session down mid-delivery
var errSessionGone = errors.New("session torn down during transfer")

// CheckEvent hands a host event to the source while it is enabled. It returns true when
// the source claims the event, in which case the host must not process it further.
func (m *Manager) CheckEvent(ev Event) bool {
	if !m.state.atLeast(StageSourceEnabled) {
		return false
	}

	msg := EventMsg{Event: ev, Message: MsgNull}
	rc := m.call(&m.state.open, DGControl, DATEvent, MsgProcessEvent, &msg)

	switch msg.Message {
	case MsgXferReady:
		if m.state.stage == StageTransferActive {
			// a batch is already being pulled; the running loop will pick up whatever is pending
			m.logger.Debug("Ignoring transfer ready signal during active transfer")
			break
		}

		m.runBatch()

	case MsgCloseDSReq, MsgCloseDSOK:
		m.logger.Infow("Source asked to close", "message", msg.Message)
		m.collapseSource()

	case MsgNull:
	default:
		m.logger.Debugw("Ignoring source notification", "message", msg.Message)
	}

	return rc != RCNotDSEvent
}

// collapseSource disables and closes the source as far as the driver lets it
func (m *Manager) collapseSource() {
	if m.state.stage == StageTransferActive {
		m.logger.Info("Close requested during active transfer, closing after the batch")
		m.state.closePending = true
		return
	}

	if err := m.disableSource(); err != nil {
		m.logger.Warnw("Failed to disable source on close request", "error", err)
		return
	}

	if err := m.closeSource(); err != nil {
		m.logger.Warnw("Failed to close source on close request", "error", err)
	}
}

func (m *Manager) runBatch() {
	if err := m.state.transition(StageTransferActive); err != nil {
		m.logger.Warnw("Cannot start transfer", "error", err)
		return
	}

	delivered, err := m.transferImages()

	switch {
	case errors.Is(err, errSessionGone):
		m.logger.Infow("Session closed during transfer", "delivered", delivered)
		m.state.closePending = false
		return

	case err != nil:
		m.logger.Warnw("Transfer batch aborted", "delivered", delivered, "error", err)
		m.abortTransfer()

	default:
		m.logger.Infow("Transfer batch complete", "delivered", delivered)
	}

	// back to idle, whatever happened
	if transitionErr := m.state.transition(StageSourceEnabled); transitionErr != nil {
		m.logger.Warnw("Failed to leave transfer stage", "error", transitionErr)
	}

	if observer, ok := m.sink.(BatchObserver); ok {
		observer.BatchComplete(delivered, err)
	}

	// the observer may have closed the source itself
	if m.state.closePending && m.state.stage == StageSourceEnabled {
		m.state.closePending = false
		m.collapseSource()
	}
}

// transferImages pulls images until the source reports none pending
func (m *Manager) transferImages() (int, error) {
	delivered := 0

	for {
		var info ImageInfo
		if rc := m.call(&m.state.open, DGImage, DATImageInfo, MsgGet, &info); rc != RCSuccess {
			return delivered, m.failure("get image info", &m.state.open, rc, ErrTransferAborted)
		}

		m.logger.Debugw("Transferring image",
			"index", delivered+1,
			"width", info.ImageWidth,
			"length", info.ImageLength,
			"bitsPerPixel", info.BitsPerPixel,
			"xResolution", info.XResolution.Float())

		var img NativeImage
		rc := m.call(&m.state.open, DGImage, DATImageNativeXfer, MsgGet, &img)
		switch rc {
		case RCXferDone:
		case RCCancel:
			return delivered, fmt.Errorf("native transfer: %w: %w", ErrTransferAborted, ErrCancelled)
		default:
			return delivered, m.failure("native transfer", &m.state.open, rc, ErrTransferAborted)
		}

		m.sink.Deliver(img)
		delivered++

		if m.state.stage != StageTransferActive {
			return delivered, errSessionGone
		}

		var pending PendingXfers
		if rc := m.call(&m.state.open, DGControl, DATPendingXfers, MsgEndXfer, &pending); rc != RCSuccess {
			return delivered, m.failure("end transfer", &m.state.open, rc, ErrTransferAborted)
		}

		if count := m.state.negotiatedCount; count > 0 && delivered > int(count) {
			m.logger.Warnw("Source delivered more images than negotiated", "negotiated", count, "delivered", delivered)
		}

		if pending.Count == 0 {
			return delivered, nil
		}
	}
}

// abortTransfer ends the current transfer and, if more are pending, discards them
func (m *Manager) abortTransfer() {
	var pending PendingXfers
	if rc := m.call(&m.state.open, DGControl, DATPendingXfers, MsgEndXfer, &pending); rc != RCSuccess {
		m.logger.Debugw("End transfer during abort failed", "rc", rc)
	}

	if pending.Count != 0 {
		pending = PendingXfers{}
		if rc := m.call(&m.state.open, DGControl, DATPendingXfers, MsgReset, &pending); rc != RCSuccess {
			m.logger.Warnw("Reset of pending transfers failed", "rc", rc)
		}
	}
}
