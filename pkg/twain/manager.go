// Package twain drives an imaging device through the TWAIN protocol: it binds the
// driver manager, opens and negotiates a data source, and pulls native images
// out of it as the source signals they are ready.
//
// A Manager is not safe for concurrent use. Every method must be called from the
// thread that runs the host event loop.
package twain

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Manager is the acquisition state machine
type Manager struct {
	logger *zap.SugaredLogger

	loader Loader
	entry  EntryPoint
	mem    Memory
	sink   ImageSink

	state *session
}

// NewManager creates a Manager in StageUnloaded. app is sent to the driver manager
// when it is opened and stays fixed for the Manager's lifetime.
func NewManager(logger *zap.SugaredLogger, loader Loader, mem Memory, app Identity, sink ImageSink) (*Manager, error) {
	if loader == nil {
		return nil, errors.New("create manager: nil loader")
	}

	if mem == nil {
		return nil, errors.New("create manager: nil memory")
	}

	if sink == nil {
		return nil, errors.New("create manager: nil image sink")
	}

	logger = logger.Named("twain")

	m := &Manager{
		logger: logger,
		loader: loader,
		mem:    mem,
		sink:   sink,
		state:  newSession(withProtocolDefaults(app)),
	}

	logger.Debugw("Created acquisition manager instance", "app", app.ProductName)

	return m, nil
}

// withProtocolDefaults fills in the protocol version, supported groups and locale when
// the caller left them zero. The driver manager refuses image transfers to an
// application that does not declare DG_IMAGE.
func withProtocolDefaults(app Identity) Identity {
	if app.ProtocolMajor == 0 && app.ProtocolMinor == 0 {
		app.ProtocolMajor = ProtocolMajor
		app.ProtocolMinor = ProtocolMinor
	}

	app.SupportedGroups |= SupportedImage

	// no country has code 0, so a zero country means the locale was never set
	if app.Version.Country == 0 {
		app.Version.Language = LanguageUSA
		app.Version.Country = CountryUSA
	}

	return app
}

// Stage returns the current protocol stage
func (m *Manager) Stage() Stage {
	return m.state.stage
}

// SelectedSource returns the identity the user last picked
func (m *Manager) SelectedSource() Identity {
	return m.state.selected
}

// OpenSource returns the identity of the source currently bound, if any
func (m *Manager) OpenSource() Identity {
	return m.state.open
}

// NegotiatedCount returns the agreed transfer count: -1 unlimited, 0 not negotiated
func (m *Manager) NegotiatedCount() int16 {
	return m.state.negotiatedCount
}

// Transferring reports whether an image batch is currently being pulled
func (m *Manager) Transferring() bool {
	return m.state.stage == StageTransferActive
}

// AppIdentity returns the application identity, including the id the driver manager assigned
func (m *Manager) AppIdentity() Identity {
	return m.state.app
}

func (m *Manager) call(dest *Identity, dg DataGroup, dat DataArgType, msg Message, data any) ReturnCode {
	return m.entry.Call(&m.state.app, dest, dg, dat, msg, data)
}

// status asks for the condition code of the last failed call. dest nil queries the manager.
func (m *Manager) status(dest *Identity) ConditionCode {
	var st Status

	if rc := m.call(dest, DGControl, DATStatus, MsgGet, &st); rc != RCSuccess {
		m.logger.Debugw("Status query failed", "rc", rc)
		return CCSuccess
	}

	return st.ConditionCode
}

func (m *Manager) failure(op string, dest *Identity, rc ReturnCode, sentinel error) error {
	err := &StatusError{
		Op:        op,
		Code:      rc,
		Condition: m.status(dest),
		Err:       sentinel,
	}

	m.logger.Warnw("Driver call failed", "op", op, "rc", rc, "condition", err.Condition)

	return err
}

// Load resolves the driver manager entry point. Calling it again once loaded is a no-op.
func (m *Manager) Load() error {
	if m.state.atLeast(StageLoaded) {
		return nil
	}

	entry, err := m.loader.Load()
	if err != nil {
		m.logger.Warnw("Failed to load driver manager", "error", err)
		return fmt.Errorf("load driver manager: %w: %w", ErrUnavailable, err)
	}

	m.entry = entry

	if err := m.state.transition(StageLoaded); err != nil {
		return err
	}

	m.logger.Info("Driver manager loaded")

	return nil
}

// Open opens the driver manager connection, anchored to window. Calling it again once open is a no-op.
func (m *Manager) Open(window WindowHandle) error {
	if m.state.atLeast(StageManagerOpen) {
		return nil
	}

	if m.state.stage != StageLoaded {
		return fmt.Errorf("open driver manager from %s: %w", m.state.stage, ErrSequence)
	}

	parent := window
	if rc := m.call(nil, DGControl, DATParent, MsgOpenDSM, &parent); rc != RCSuccess {
		return m.failure("open driver manager", nil, rc, ErrUnavailable)
	}

	if err := m.state.transition(StageManagerOpen); err != nil {
		return err
	}

	m.logger.Infow("Driver manager opened", "appID", m.state.app.ID)

	return nil
}

// Close closes the driver manager connection. No source may be open.
func (m *Manager) Close(window WindowHandle) error {
	if m.state.stage != StageManagerOpen {
		return fmt.Errorf("close driver manager from %s: %w", m.state.stage, ErrSequence)
	}

	parent := window
	if rc := m.call(nil, DGControl, DATParent, MsgCloseDSM, &parent); rc != RCSuccess {
		return m.failure("close driver manager", nil, rc, ErrFailed)
	}

	if err := m.state.transition(StageLoaded); err != nil {
		return err
	}

	m.logger.Info("Driver manager closed")

	return nil
}

// SelectSource shows the driver manager's source picker. A user cancel is not an error.
// The currently open source, if any, is not affected.
func (m *Manager) SelectSource() error {
	if !m.state.atLeast(StageManagerOpen) {
		return fmt.Errorf("select source from %s: %w", m.state.stage, ErrSequence)
	}

	var picked Identity

	rc := m.call(nil, DGControl, DATIdentity, MsgUserSelect, &picked)
	switch rc {
	case RCSuccess:
		m.state.selected = picked
		m.logger.Infow("Source selected", "source", picked)
		return nil

	case RCCancel:
		m.logger.Debug("Source selection cancelled")
		return nil

	default:
		return m.failure("select source", nil, rc, ErrFailed)
	}
}

// Acquire opens the selected source, negotiates its capabilities and enables it with its UI.
// On success the host loop must forward every event to CheckEvent. On failure the session is
// left with the source closed or merely open, never half negotiated.
func (m *Manager) Acquire(window WindowHandle) error {
	if !m.state.atLeast(StageManagerOpen) || m.state.stage == StageTransferActive {
		return fmt.Errorf("acquire from %s: %w", m.state.stage, ErrSequence)
	}

	if err := m.openSource(); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	if err := m.negotiateCaps(); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	if err := m.enableSource(window); err != nil {
		if closeErr := m.closeSource(); closeErr != nil {
			m.logger.Warnw("Failed to close source after enable failure", "error", closeErr)
		}

		return fmt.Errorf("acquire: %w", err)
	}

	return nil
}

// Shutdown unwinds from whatever stage the session is in down to StageUnloaded.
// Every step is attempted even if an earlier one failed; the failures are joined
// into the returned error. It is safe to call more than once.
func (m *Manager) Shutdown(window WindowHandle) error {
	var errs []error

	m.logger.Debugw("Shutting down", "stage", m.state.stage)

	if m.state.stage == StageTransferActive {
		m.abortTransfer()

		if err := m.state.transition(StageSourceEnabled); err != nil {
			errs = append(errs, err)
		}
	}

	if m.state.stage == StageSourceEnabled {
		if err := m.disableWithAbort(); err != nil {
			errs = append(errs, err)
		}
	}

	if m.state.atLeast(StageSourceOpen) {
		if err := m.closeSource(); err != nil {
			errs = append(errs, err)
			m.forceCloseSource()
		}
	}

	if m.state.stage == StageManagerOpen {
		if err := m.Close(window); err != nil {
			errs = append(errs, err)

			// the manager connection is abandoned either way
			_ = m.state.transition(StageLoaded)
		}
	}

	if m.state.stage == StageLoaded {
		if err := m.loader.Unload(); err != nil {
			m.logger.Warnw("Failed to unload driver manager", "error", err)
			errs = append(errs, fmt.Errorf("unload driver manager: %w", err))
		}

		m.entry = nil

		if err := m.state.transition(StageUnloaded); err != nil {
			errs = append(errs, err)
		}

		m.logger.Info("Driver manager unloaded")
	}

	return errors.Join(errs...)
}
