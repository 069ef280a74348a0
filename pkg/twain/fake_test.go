package twain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type op struct {
	dat DataArgType
	msg Message
}

var (
	opOpenDSM     = op{DATParent, MsgOpenDSM}
	opCloseDSM    = op{DATParent, MsgCloseDSM}
	opUserSelect  = op{DATIdentity, MsgUserSelect}
	opOpenDS      = op{DATIdentity, MsgOpenDS}
	opCloseDS     = op{DATIdentity, MsgCloseDS}
	opCapSet      = op{DATCapability, MsgSet}
	opCapGet      = op{DATCapability, MsgGet}
	opEnableDS    = op{DATUserInterface, MsgEnableDS}
	opDisableDS   = op{DATUserInterface, MsgDisableDS}
	opProcessEvt  = op{DATEvent, MsgProcessEvent}
	opImageInfo   = op{DATImageInfo, MsgGet}
	opNativeXfer  = op{DATImageNativeXfer, MsgGet}
	opEndXfer     = op{DATPendingXfers, MsgEndXfer}
	opResetXfers  = op{DATPendingXfers, MsgReset}
	opGetStatus   = op{DATStatus, MsgGet}
	fakeSourceID  = uint32(7)
	fakeManagerID = uint32(1)
)

// fakeDriver plays the driver manager and a single source
type fakeDriver struct {
	mem *HeapMemory

	calls  []op
	script map[op][]ReturnCode

	condition ConditionCode
	picked    Identity

	// application identity as sent when opening the manager
	openedBy Identity

	// capability negotiation
	lastSet          OneValue
	preferredCount   int16
	getNoContainer   bool
	getContainerType ContainerType

	// transfers
	events     []Message
	images     int
	remaining  int
	xfers      int
	failXferAt int
	failXferRC ReturnCode
}

func newFakeDriver(mem *HeapMemory) *fakeDriver {
	return &fakeDriver{
		mem:              mem,
		script:           make(map[op][]ReturnCode),
		picked:           Identity{ProductName: "Flatbed", Manufacturer: "Acme"},
		preferredCount:   5,
		getContainerType: ConOneValue,
		images:           1,
	}
}

// answer queues return codes for the next calls of o, after which it succeeds again
func (f *fakeDriver) answer(o op, rcs ...ReturnCode) {
	f.script[o] = append(f.script[o], rcs...)
}

func (f *fakeDriver) count(o op) int {
	n := 0
	for _, c := range f.calls {
		if c == o {
			n++
		}
	}

	return n
}

func (f *fakeDriver) scripted(o op, fallback ReturnCode) ReturnCode {
	if queue := f.script[o]; len(queue) > 0 {
		f.script[o] = queue[1:]
		return queue[0]
	}

	return fallback
}

func (f *fakeDriver) Call(origin *Identity, dest *Identity, dg DataGroup, dat DataArgType, msg Message, data any) ReturnCode {
	o := op{dat, msg}
	if o != opGetStatus {
		f.calls = append(f.calls, o)
	}

	switch o {
	case opOpenDSM:
		f.openedBy = *origin
		rc := f.scripted(o, RCSuccess)
		if rc == RCSuccess {
			origin.ID = fakeManagerID
		}
		return rc

	case opUserSelect:
		rc := f.scripted(o, RCSuccess)
		if rc == RCSuccess {
			*data.(*Identity) = f.picked
		}
		return rc

	case opOpenDS:
		rc := f.scripted(o, RCSuccess)
		if rc == RCSuccess {
			data.(*Identity).ID = fakeSourceID
		}
		return rc

	case opCapSet:
		c := data.(*Capability)
		b, err := f.mem.Lock(c.Container)
		if err == nil {
			f.lastSet, _ = decodeOneValue(b)
			f.mem.Unlock(c.Container)
		}
		return f.scripted(o, RCSuccess)

	case opCapGet:
		rc := f.scripted(o, RCSuccess)
		if rc != RCSuccess || f.getNoContainer {
			return rc
		}

		c := data.(*Capability)
		h, _ := f.mem.Alloc(oneValueSize)
		b, _ := f.mem.Lock(h)
		_ = encodeOneValue(b, OneValue{ItemType: TypeInt16, Item: uint32(uint16(f.preferredCount))})
		f.mem.Unlock(h)
		c.Container = h
		c.ConType = f.getContainerType
		return rc

	case opProcessEvt:
		ev := data.(*EventMsg)
		if len(f.events) == 0 {
			ev.Message = MsgNull
			return RCNotDSEvent
		}

		ev.Message = f.events[0]
		f.events = f.events[1:]
		if ev.Message == MsgXferReady && f.remaining == 0 {
			f.remaining = f.images
		}
		return RCDSEvent

	case opImageInfo:
		info := data.(*ImageInfo)
		info.ImageWidth = 850
		info.ImageLength = 1100
		info.BitsPerPixel = 24
		info.XResolution = Fix32{Whole: 100}
		return f.scripted(o, RCSuccess)

	case opNativeXfer:
		f.xfers++
		if f.xfers == f.failXferAt {
			return f.failXferRC
		}

		h, _ := f.mem.Alloc(64)
		*data.(*NativeImage) = NativeImage(h)
		return f.scripted(o, RCXferDone)

	case opEndXfer:
		rc := f.scripted(o, RCSuccess)
		if f.remaining > 0 {
			f.remaining--
		}
		data.(*PendingXfers).Count = int16(f.remaining)
		return rc

	case opResetXfers:
		f.remaining = 0
		data.(*PendingXfers).Count = 0
		return f.scripted(o, RCSuccess)

	case opGetStatus:
		data.(*Status).ConditionCode = f.condition
		return RCSuccess

	default:
		return f.scripted(o, RCSuccess)
	}
}

type fakeLoader struct {
	entry   EntryPoint
	loadErr error
	loads   int
	unloads int
}

func (l *fakeLoader) Load() (EntryPoint, error) {
	l.loads++
	if l.loadErr != nil {
		return nil, l.loadErr
	}

	return l.entry, nil
}

func (l *fakeLoader) Unload() error {
	l.unloads++
	return nil
}

type batchResult struct {
	delivered int
	err       error
}

// recordingSink frees every image it receives, like a real consumer would after decoding
type recordingSink struct {
	mem       *HeapMemory
	delivered []NativeImage
	batches   []batchResult
	onDeliver func(n int)
}

func (s *recordingSink) Deliver(img NativeImage) {
	s.delivered = append(s.delivered, img)
	_ = s.mem.Free(MemHandle(img))

	if s.onDeliver != nil {
		s.onDeliver(len(s.delivered))
	}
}

func (s *recordingSink) BatchComplete(delivered int, err error) {
	s.batches = append(s.batches, batchResult{delivered: delivered, err: err})
}

type harness struct {
	m      *Manager
	driver *fakeDriver
	loader *fakeLoader
	sink   *recordingSink
	mem    *HeapMemory
}

var testApp = Identity{
	Version:         Version{MajorNum: 1, Language: LanguageUSA, Country: CountryUSA, Info: "test"},
	ProtocolMajor:   ProtocolMajor,
	ProtocolMinor:   ProtocolMinor,
	SupportedGroups: SupportedImage,
	Manufacturer:    "scanmgr",
	ProductFamily:   "scanmgr",
	ProductName:     "scanmgr test",
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	return newHarnessFor(t, testApp)
}

func newHarnessFor(t *testing.T, app Identity) *harness {
	t.Helper()

	mem := NewHeapMemory()
	driver := newFakeDriver(mem)
	loader := &fakeLoader{entry: driver}
	sink := &recordingSink{mem: mem}

	m, err := NewManager(zaptest.NewLogger(t).Sugar(), loader, mem, app, sink)
	require.NoError(t, err)

	return &harness{m: m, driver: driver, loader: loader, sink: sink, mem: mem}
}

// driveTo walks the session up to stage through the regular operations
func (h *harness) driveTo(t *testing.T, stage Stage) {
	t.Helper()

	steps := []struct {
		stage Stage
		run   func() error
	}{
		{StageLoaded, h.m.Load},
		{StageManagerOpen, func() error {
			if err := h.m.Open(0); err != nil {
				return err
			}
			return h.m.SelectSource()
		}},
		{StageSourceOpen, h.m.openSource},
		{StageCapsNegotiated, h.m.negotiateCaps},
		{StageSourceEnabled, func() error { return h.m.enableSource(0) }},
	}

	for _, step := range steps {
		if step.stage > stage {
			break
		}

		require.NoError(t, step.run())
		require.Equal(t, step.stage, h.m.Stage())
	}

	if stage == StageTransferActive {
		t.Fatal("transfer stage is only reachable through an event")
	}
}
