package twain

import (
	"fmt"
	"unsafe"
)

// DataGroup is the top-level message category (DG_xxxx)
type DataGroup uint32

// DataArgType identifies the payload type of a message (DAT_xxxx)
type DataArgType uint16

// Message is the action requested from the driver (MSG_xxxx)
type Message uint16

// ReturnCode is the result of a single entry point call (TWRC_xxxx)
type ReturnCode uint16

// ConditionCode is the detailed status reported by DAT_STATUS (TWCC_xxxx)
type ConditionCode uint16

// CapabilityID identifies a device capability (CAP_xxxx)
type CapabilityID uint16

// ContainerType identifies the layout of a capability container (TWON_xxxx)
type ContainerType uint16

// ItemType identifies the type of a container item (TWTY_xxxx)
type ItemType uint16

const (
	DGControl DataGroup = 0x0001
	DGImage   DataGroup = 0x0002
)

const (
	DATCapability      DataArgType = 0x0001
	DATEvent           DataArgType = 0x0002
	DATIdentity        DataArgType = 0x0003
	DATParent          DataArgType = 0x0004
	DATPendingXfers    DataArgType = 0x0005
	DATStatus          DataArgType = 0x0008
	DATUserInterface   DataArgType = 0x0009
	DATImageInfo       DataArgType = 0x0101
	DATImageNativeXfer DataArgType = 0x0104
)

const (
	MsgNull         Message = 0x0000
	MsgGet          Message = 0x0001
	MsgSet          Message = 0x0006
	MsgReset        Message = 0x0007
	MsgXferReady    Message = 0x0101
	MsgCloseDSReq   Message = 0x0102
	MsgCloseDSOK    Message = 0x0103
	MsgDeviceEvent  Message = 0x0104
	MsgOpenDSM      Message = 0x0301
	MsgCloseDSM     Message = 0x0302
	MsgOpenDS       Message = 0x0401
	MsgCloseDS      Message = 0x0402
	MsgUserSelect   Message = 0x0403
	MsgDisableDS    Message = 0x0501
	MsgEnableDS     Message = 0x0502
	MsgProcessEvent Message = 0x0601
	MsgEndXfer      Message = 0x0701
)

const (
	RCSuccess     ReturnCode = 0
	RCFailure     ReturnCode = 1
	RCCheckStatus ReturnCode = 2
	RCCancel      ReturnCode = 3
	RCDSEvent     ReturnCode = 4
	RCNotDSEvent  ReturnCode = 5
	RCXferDone    ReturnCode = 6
	RCEndOfList   ReturnCode = 7
)

const (
	CCSuccess         ConditionCode = 0
	CCBummer          ConditionCode = 1
	CCLowMemory       ConditionCode = 2
	CCNoDS            ConditionCode = 3
	CCMaxConnections  ConditionCode = 4
	CCOperationError  ConditionCode = 5
	CCBadCap          ConditionCode = 6
	CCBadProtocol     ConditionCode = 9
	CCBadValue        ConditionCode = 10
	CCSeqError        ConditionCode = 11
	CCBadDest         ConditionCode = 12
	CCCapUnsupported  ConditionCode = 13
	CCCapBadOperation ConditionCode = 14
	CCCapSeqError     ConditionCode = 15
)

const (
	CapXferCount CapabilityID = 0x0001
)

const (
	ConOneValue    ContainerType = 5
	ConDontCare16  ContainerType = 0xffff
	TypeInt16      ItemType      = 1
	TypeUint16     ItemType      = 4
	TypeUint32     ItemType      = 5
	LanguageUSA    uint16        = 13
	CountryUSA     uint16        = 1
	ProtocolMajor  uint16        = 1
	ProtocolMinor  uint16        = 9
	SupportedImage uint32        = uint32(DGControl | DGImage)
)

// XferCountUnlimited asks the device to deliver any number of images per batch
const XferCountUnlimited int16 = -1

// WindowHandle is an opaque reference to a host window (HWND on Windows)
type WindowHandle uintptr

// NativeImage is the device-native bitmap handle produced by a native transfer.
// Whoever receives it from an ImageSink owns it and must release it.
type NativeImage uintptr

// MemHandle refers to a shared memory block exchanged with the driver
type MemHandle uintptr

// Event wraps a pointer to the host's native message (MSG on Windows).
// The pointee must stay alive and must not move for the duration of CheckEvent.
type Event struct {
	Msg unsafe.Pointer
}

// Version is the version block of an Identity
type Version struct {
	MajorNum uint16
	MinorNum uint16
	Language uint16
	Country  uint16
	Info     string
}

// Identity describes an application or a data source
type Identity struct {
	ID              uint32
	Version         Version
	ProtocolMajor   uint16
	ProtocolMinor   uint16
	SupportedGroups uint32
	Manufacturer    string
	ProductFamily   string
	ProductName     string
}

// IsZero reports whether the identity has never been filled in
func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) String() string {
	if id.IsZero() {
		return "<none>"
	}

	return fmt.Sprintf("%s (%s, id %d)", id.ProductName, id.Manufacturer, id.ID)
}

// Capability is the DAT_CAPABILITY payload
type Capability struct {
	Cap       CapabilityID
	ConType   ContainerType
	Container MemHandle
}

// OneValue is the TWON_ONEVALUE container layout
type OneValue struct {
	ItemType ItemType
	Item     uint32
}

// UserInterface is the DAT_USERINTERFACE payload
type UserInterface struct {
	ShowUI  bool
	ModalUI bool
	Parent  WindowHandle
}

// PendingXfers is the DAT_PENDINGXFERS payload
type PendingXfers struct {
	Count int16
	EOJ   uint32
}

// Status is the DAT_STATUS payload
type Status struct {
	ConditionCode ConditionCode
	Data          uint16
}

// Fix32 is the fixed point number used for resolutions
type Fix32 struct {
	Whole int16
	Frac  uint16
}

// Float converts the fixed point value to a float64
func (f Fix32) Float() float64 {
	return float64(f.Whole) + float64(f.Frac)/65536.0
}

// ImageInfo is the DAT_IMAGEINFO payload
type ImageInfo struct {
	XResolution     Fix32
	YResolution     Fix32
	ImageWidth      int32
	ImageLength     int32
	SamplesPerPixel int16
	BitsPerSample   [8]int16
	BitsPerPixel    int16
	Planar          bool
	PixelType       int16
	Compression     uint16
}

// EventMsg is the DAT_EVENT payload
type EventMsg struct {
	Event   Event
	Message Message
}

func (rc ReturnCode) String() string {
	switch rc {
	case RCSuccess:
		return "success"
	case RCFailure:
		return "failure"
	case RCCheckStatus:
		return "checkstatus"
	case RCCancel:
		return "cancel"
	case RCDSEvent:
		return "dsevent"
	case RCNotDSEvent:
		return "notdsevent"
	case RCXferDone:
		return "xferdone"
	case RCEndOfList:
		return "endoflist"
	default:
		return fmt.Sprintf("rc(%d)", uint16(rc))
	}
}

func (cc ConditionCode) String() string {
	switch cc {
	case CCSuccess:
		return "success"
	case CCBummer:
		return "bummer"
	case CCLowMemory:
		return "low memory"
	case CCNoDS:
		return "no data source"
	case CCMaxConnections:
		return "max connections"
	case CCOperationError:
		return "operation error"
	case CCBadCap:
		return "bad capability"
	case CCBadProtocol:
		return "bad protocol"
	case CCBadValue:
		return "bad value"
	case CCSeqError:
		return "sequence error"
	case CCBadDest:
		return "bad destination"
	case CCCapUnsupported:
		return "capability unsupported"
	case CCCapBadOperation:
		return "capability bad operation"
	case CCCapSeqError:
		return "capability sequence error"
	default:
		return fmt.Sprintf("cc(%d)", uint16(cc))
	}
}

func (m Message) String() string {
	switch m {
	case MsgNull:
		return "MSG_NULL"
	case MsgGet:
		return "MSG_GET"
	case MsgSet:
		return "MSG_SET"
	case MsgReset:
		return "MSG_RESET"
	case MsgXferReady:
		return "MSG_XFERREADY"
	case MsgCloseDSReq:
		return "MSG_CLOSEDSREQ"
	case MsgCloseDSOK:
		return "MSG_CLOSEDSOK"
	case MsgDeviceEvent:
		return "MSG_DEVICEEVENT"
	case MsgOpenDSM:
		return "MSG_OPENDSM"
	case MsgCloseDSM:
		return "MSG_CLOSEDSM"
	case MsgOpenDS:
		return "MSG_OPENDS"
	case MsgCloseDS:
		return "MSG_CLOSEDS"
	case MsgUserSelect:
		return "MSG_USERSELECT"
	case MsgDisableDS:
		return "MSG_DISABLEDS"
	case MsgEnableDS:
		return "MSG_ENABLEDS"
	case MsgProcessEvent:
		return "MSG_PROCESSEVENT"
	case MsgEndXfer:
		return "MSG_ENDXFER"
	default:
		return fmt.Sprintf("MSG(0x%04x)", uint16(m))
	}
}
