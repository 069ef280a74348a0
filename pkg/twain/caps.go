package twain

import (
	"errors"
	"fmt"
)

// negotiateCaps asks the open source for an unlimited transfer count, and accepts
// the source's own count when it wants to negotiate
func (m *Manager) negotiateCaps() error {
	if m.state.stage != StageSourceOpen {
		return fmt.Errorf("negotiate capabilities from %s: %w", m.state.stage, ErrSequence)
	}

	count, err := m.setTransferCount(XferCountUnlimited)
	if err != nil {
		return fmt.Errorf("negotiate transfer count: %w", err)
	}

	m.state.negotiatedCount = count

	if err := m.state.transition(StageCapsNegotiated); err != nil {
		return err
	}

	m.logger.Infow("Capabilities negotiated", "transferCount", count)

	return nil
}

// setTransferCount sets CAP_XFERCOUNT and returns the count the source settled on
func (m *Manager) setTransferCount(want int16) (count int16, err error) {
	container, err := allocLease(m.mem, oneValueSize)
	if err != nil {
		return 0, err
	}
	defer func() {
		if freeErr := container.release(); freeErr != nil {
			err = errors.Join(err, fmt.Errorf("free set container: %w", freeErr))
		}
	}()

	err = container.with(func(b []byte) error {
		return encodeOneValue(b, OneValue{ItemType: TypeInt16, Item: uint32(uint16(want))})
	})
	if err != nil {
		return 0, err
	}

	capability := Capability{
		Cap:       CapXferCount,
		ConType:   ConOneValue,
		Container: container.handle,
	}

	rc := m.call(&m.state.open, DGControl, DATCapability, MsgSet, &capability)
	switch rc {
	case RCSuccess:
		return want, nil

	case RCCheckStatus:
		m.logger.Debug("Source wants to negotiate transfer count")
		return m.getTransferCount()

	default:
		return 0, m.failure("set transfer count", &m.state.open, rc, ErrNegotiationRejected)
	}
}

// getTransferCount reads CAP_XFERCOUNT from a container the source allocates
func (m *Manager) getTransferCount() (count int16, err error) {
	capability := Capability{
		Cap:     CapXferCount,
		ConType: ConDontCare16,
	}

	rc := m.call(&m.state.open, DGControl, DATCapability, MsgGet, &capability)

	// whatever the result, a container the source handed over is ours to free
	container := adoptLease(m.mem, capability.Container)
	defer func() {
		if freeErr := container.release(); freeErr != nil {
			err = errors.Join(err, fmt.Errorf("free get container: %w", freeErr))
		}
	}()

	if rc != RCSuccess {
		return 0, m.failure("get transfer count", &m.state.open, rc, ErrNegotiationRejected)
	}

	if capability.Container == 0 {
		return 0, fmt.Errorf("get transfer count: %w", ErrNoContainer)
	}

	if capability.ConType != ConOneValue {
		return 0, fmt.Errorf("get transfer count: container type %d: %w", capability.ConType, ErrNegotiationRejected)
	}

	err = container.with(func(b []byte) error {
		value, decodeErr := decodeOneValue(b)
		if decodeErr != nil {
			return decodeErr
		}

		count = int16(uint16(value.Item))

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get transfer count: %w", err)
	}

	if count == 0 {
		return 0, fmt.Errorf("get transfer count: source proposed zero images: %w", ErrNegotiationRejected)
	}

	return count, nil
}
