package twain

import "fmt"

// openSource binds the selected source, collapsing any source that is still bound first
func (m *Manager) openSource() error {
	if !m.state.atLeast(StageManagerOpen) {
		return fmt.Errorf("open source from %s: %w", m.state.stage, ErrSequence)
	}

	if m.state.selected.IsZero() {
		return fmt.Errorf("open source: %w", ErrNotSelected)
	}

	if m.state.atLeast(StageSourceOpen) {
		m.logger.Debugw("Source already bound, closing it first", "source", m.state.open, "stage", m.state.stage)

		if m.state.stage == StageSourceEnabled {
			if err := m.disableWithAbort(); err != nil {
				m.logger.Warnw("Could not disable bound source", "error", err)
			}
		}

		if m.state.stage == StageSourceEnabled {
			// disable never took; the source is dropped regardless
			m.forceCloseSource()
		} else if err := m.closeSource(); err != nil {
			return fmt.Errorf("close bound source: %w", err)
		}
	}

	selected := m.state.selected

	if rc := m.call(nil, DGControl, DATIdentity, MsgOpenDS, &selected); rc != RCSuccess {
		return m.failure("open source", nil, rc, ErrFailed)
	}

	// the driver manager fills in the id of the source it opened
	m.state.selected = selected
	m.state.sourceOpened()

	if err := m.state.transition(StageSourceOpen); err != nil {
		return err
	}

	m.logger.Infow("Source opened", "source", m.state.open)

	return nil
}

// closeSource unbinds the open source. With no source open it trivially succeeds.
func (m *Manager) closeSource() error {
	if !m.state.atLeast(StageSourceOpen) {
		return nil
	}

	if m.state.atLeast(StageSourceEnabled) {
		return fmt.Errorf("close source while %s: %w", m.state.stage, ErrSequence)
	}

	// closing discards whatever was negotiated
	if m.state.stage == StageCapsNegotiated {
		if err := m.state.transition(StageSourceOpen); err != nil {
			return err
		}

		m.state.negotiatedCount = 0
	}

	open := m.state.open

	if rc := m.call(nil, DGControl, DATIdentity, MsgCloseDS, &open); rc != RCSuccess {
		return m.failure("close source", nil, rc, ErrFailed)
	}

	m.state.sourceClosed()

	if err := m.state.transition(StageManagerOpen); err != nil {
		return err
	}

	m.logger.Info("Source closed")

	return nil
}

// forceCloseSource asks the driver manager to close the source, ignores the answer,
// and collapses the session back to StageManagerOpen
func (m *Manager) forceCloseSource() {
	if !CanForceClose(m.state.stage) {
		return
	}

	open := m.state.open
	if rc := m.call(nil, DGControl, DATIdentity, MsgCloseDS, &open); rc != RCSuccess {
		m.logger.Warnw("Forced source close failed, abandoning source", "rc", rc)
	}

	if err := m.state.forceClose(); err != nil {
		m.logger.Warnw("Force close refused", "error", err)
		return
	}

	m.logger.Info("Source force closed")
}

// enableSource brings up the source UI, non-modal, anchored to window
func (m *Manager) enableSource(window WindowHandle) error {
	if m.state.stage != StageCapsNegotiated {
		return fmt.Errorf("enable source from %s: %w", m.state.stage, ErrSequence)
	}

	ui := UserInterface{
		ShowUI:  true,
		ModalUI: false,
		Parent:  window,
	}

	if rc := m.call(&m.state.open, DGControl, DATUserInterface, MsgEnableDS, &ui); rc != RCSuccess {
		if rc == RCCancel {
			return fmt.Errorf("enable source: %w", ErrCancelled)
		}

		return m.failure("enable source", &m.state.open, rc, ErrFailed)
	}

	if err := m.state.transition(StageSourceEnabled); err != nil {
		return err
	}

	m.logger.Info("Source enabled, forwarding events")

	return nil
}

// disableSource takes the source UI down. With the source not enabled it trivially succeeds.
func (m *Manager) disableSource() error {
	if m.state.stage != StageSourceEnabled {
		if m.state.stage == StageTransferActive {
			return fmt.Errorf("disable source while %s: %w", m.state.stage, ErrSequence)
		}

		return nil
	}

	var ui UserInterface
	if rc := m.call(&m.state.open, DGControl, DATUserInterface, MsgDisableDS, &ui); rc != RCSuccess {
		return m.failure("disable source", &m.state.open, rc, ErrFailed)
	}

	if err := m.state.transition(StageCapsNegotiated); err != nil {
		return err
	}

	m.logger.Info("Source disabled")

	return nil
}

// disableWithAbort disables the source, aborting pending transfers and retrying once on failure
func (m *Manager) disableWithAbort() error {
	err := m.disableSource()
	if err == nil {
		return nil
	}

	m.logger.Debugw("Disable failed, aborting pending transfers and retrying", "error", err)
	m.abortTransfer()

	return m.disableSource()
}
