package twain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Packed (pack 2) sizes of the protocol structures as the driver manager expects them
const (
	strSize         = 34
	identitySize    = 156
	oneValueSize    = 6
	pendingXferSize = 6
	statusSize      = 4
	imageInfoSize   = 42
)

var (
	ptrSize = int(unsafe.Sizeof(uintptr(0)))

	capabilitySize    = 4 + ptrSize
	userInterfaceSize = 4 + ptrSize
	eventSize         = ptrSize + 2

	le = binary.LittleEndian
)

func putHandle(b []byte, v uintptr) {
	if ptrSize == 8 {
		le.PutUint64(b, uint64(v))
		return
	}

	le.PutUint32(b, uint32(v))
}

func getHandle(b []byte) uintptr {
	if ptrSize == 8 {
		return uintptr(le.Uint64(b))
	}

	return uintptr(le.Uint32(b))
}

func putString(b []byte, s string) {
	// always leave room for the terminating NUL
	n := copy(b[:strSize-1], s)
	for idx := n; idx < strSize; idx++ {
		b[idx] = 0
	}
}

func getString(b []byte) string {
	b = b[:strSize]
	if end := bytes.IndexByte(b, 0); end >= 0 {
		b = b[:end]
	}

	return string(b)
}

func boolToU16(v bool) uint16 {
	if v {
		return 1
	}

	return 0
}

func encodeIdentity(id *Identity) []byte {
	b := make([]byte, identitySize)

	le.PutUint32(b[0:], id.ID)
	le.PutUint16(b[4:], id.Version.MajorNum)
	le.PutUint16(b[6:], id.Version.MinorNum)
	le.PutUint16(b[8:], id.Version.Language)
	le.PutUint16(b[10:], id.Version.Country)
	putString(b[12:], id.Version.Info)
	le.PutUint16(b[46:], id.ProtocolMajor)
	le.PutUint16(b[48:], id.ProtocolMinor)
	le.PutUint32(b[50:], id.SupportedGroups)
	putString(b[54:], id.Manufacturer)
	putString(b[88:], id.ProductFamily)
	putString(b[122:], id.ProductName)

	return b
}

func decodeIdentity(b []byte, id *Identity) error {
	if len(b) < identitySize {
		return fmt.Errorf("decode identity: short buffer (%d bytes)", len(b))
	}

	id.ID = le.Uint32(b[0:])
	id.Version.MajorNum = le.Uint16(b[4:])
	id.Version.MinorNum = le.Uint16(b[6:])
	id.Version.Language = le.Uint16(b[8:])
	id.Version.Country = le.Uint16(b[10:])
	id.Version.Info = getString(b[12:])
	id.ProtocolMajor = le.Uint16(b[46:])
	id.ProtocolMinor = le.Uint16(b[48:])
	id.SupportedGroups = le.Uint32(b[50:])
	id.Manufacturer = getString(b[54:])
	id.ProductFamily = getString(b[88:])
	id.ProductName = getString(b[122:])

	return nil
}

func encodeOneValue(b []byte, v OneValue) error {
	if len(b) < oneValueSize {
		return fmt.Errorf("encode one value: short buffer (%d bytes)", len(b))
	}

	le.PutUint16(b[0:], uint16(v.ItemType))
	le.PutUint32(b[2:], v.Item)

	return nil
}

func decodeOneValue(b []byte) (OneValue, error) {
	if len(b) < oneValueSize {
		return OneValue{}, fmt.Errorf("decode one value: short buffer (%d bytes)", len(b))
	}

	return OneValue{
		ItemType: ItemType(le.Uint16(b[0:])),
		Item:     le.Uint32(b[2:]),
	}, nil
}

func encodeCapability(c *Capability) []byte {
	b := make([]byte, capabilitySize)
	le.PutUint16(b[0:], uint16(c.Cap))
	le.PutUint16(b[2:], uint16(c.ConType))
	putHandle(b[4:], uintptr(c.Container))

	return b
}

func decodeCapability(b []byte, c *Capability) {
	c.Cap = CapabilityID(le.Uint16(b[0:]))
	c.ConType = ContainerType(le.Uint16(b[2:]))
	c.Container = MemHandle(getHandle(b[4:]))
}

func encodeUserInterface(ui *UserInterface) []byte {
	b := make([]byte, userInterfaceSize)
	le.PutUint16(b[0:], boolToU16(ui.ShowUI))
	le.PutUint16(b[2:], boolToU16(ui.ModalUI))
	putHandle(b[4:], uintptr(ui.Parent))

	return b
}

func encodePendingXfers(p *PendingXfers) []byte {
	b := make([]byte, pendingXferSize)
	le.PutUint16(b[0:], uint16(p.Count))
	le.PutUint32(b[2:], p.EOJ)

	return b
}

func decodePendingXfers(b []byte, p *PendingXfers) {
	p.Count = int16(le.Uint16(b[0:]))
	p.EOJ = le.Uint32(b[2:])
}

func decodeStatus(b []byte, s *Status) {
	s.ConditionCode = ConditionCode(le.Uint16(b[0:]))
	s.Data = le.Uint16(b[2:])
}

func decodeImageInfo(b []byte, info *ImageInfo) {
	info.XResolution = Fix32{Whole: int16(le.Uint16(b[0:])), Frac: le.Uint16(b[2:])}
	info.YResolution = Fix32{Whole: int16(le.Uint16(b[4:])), Frac: le.Uint16(b[6:])}
	info.ImageWidth = int32(le.Uint32(b[8:]))
	info.ImageLength = int32(le.Uint32(b[12:]))
	info.SamplesPerPixel = int16(le.Uint16(b[16:]))
	for idx := range info.BitsPerSample {
		info.BitsPerSample[idx] = int16(le.Uint16(b[18+2*idx:]))
	}
	info.BitsPerPixel = int16(le.Uint16(b[34:]))
	info.Planar = le.Uint16(b[36:]) != 0
	info.PixelType = int16(le.Uint16(b[38:]))
	info.Compression = le.Uint16(b[40:])
}

func encodeEvent(ev *EventMsg) []byte {
	b := make([]byte, eventSize)
	putHandle(b[0:], uintptr(ev.Event.Msg))
	le.PutUint16(b[ptrSize:], uint16(ev.Message))

	return b
}

func decodeEventMessage(b []byte) Message {
	return Message(le.Uint16(b[ptrSize:]))
}

// payload is a payload marshalled into its packed layout, plus the step that
// copies driver-written fields back into the Go value
type payload struct {
	buf    []byte
	decode func() error
}

// marshalPayload packs any payload type understood by the protocol layer
func marshalPayload(data any) (*payload, error) {
	noop := func() error { return nil }

	switch v := data.(type) {
	case nil:
		return &payload{decode: noop}, nil

	case *WindowHandle:
		b := make([]byte, ptrSize)
		putHandle(b, uintptr(*v))
		return &payload{buf: b, decode: noop}, nil

	case *Identity:
		b := encodeIdentity(v)
		return &payload{buf: b, decode: func() error { return decodeIdentity(b, v) }}, nil

	case *Capability:
		b := encodeCapability(v)
		return &payload{buf: b, decode: func() error { decodeCapability(b, v); return nil }}, nil

	case *UserInterface:
		return &payload{buf: encodeUserInterface(v), decode: noop}, nil

	case *PendingXfers:
		b := encodePendingXfers(v)
		return &payload{buf: b, decode: func() error { decodePendingXfers(b, v); return nil }}, nil

	case *Status:
		b := make([]byte, statusSize)
		return &payload{buf: b, decode: func() error { decodeStatus(b, v); return nil }}, nil

	case *ImageInfo:
		b := make([]byte, imageInfoSize)
		return &payload{buf: b, decode: func() error { decodeImageInfo(b, v); return nil }}, nil

	case *EventMsg:
		b := encodeEvent(v)
		return &payload{buf: b, decode: func() error { v.Message = decodeEventMessage(b); return nil }}, nil

	case *NativeImage:
		b := make([]byte, ptrSize)
		return &payload{buf: b, decode: func() error { *v = NativeImage(getHandle(b)); return nil }}, nil

	default:
		return nil, fmt.Errorf("marshal payload %T: unsupported type", data)
	}
}
