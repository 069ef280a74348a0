package twain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityLayout(t *testing.T) {
	id := testApp
	id.ID = 0x01020304

	b := encodeIdentity(&id)
	require.Len(t, b, identitySize)

	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[0:4])
	assert.Equal(t, []byte{byte(LanguageUSA), 0}, b[8:10])
	assert.Equal(t, "test", string(b[12:16]))
	assert.Equal(t, byte(0), b[16])
	assert.Equal(t, []byte{byte(ProtocolMajor), 0, byte(ProtocolMinor), 0}, b[46:50])
	assert.Equal(t, []byte{0x03, 0, 0, 0}, b[50:54])
	assert.Equal(t, "scanmgr", string(b[54:61]))
	assert.Equal(t, "scanmgr test", string(b[122:134]))

	var back Identity
	require.NoError(t, decodeIdentity(b, &back))
	assert.Equal(t, id, back)
}

func TestIdentityStringsAreTruncated(t *testing.T) {
	id := Identity{ProductName: strings.Repeat("x", 40)}

	b := encodeIdentity(&id)
	assert.Equal(t, byte(0), b[122+strSize-1], "string fields keep their terminator")

	var back Identity
	require.NoError(t, decodeIdentity(b, &back))
	assert.Equal(t, strings.Repeat("x", strSize-1), back.ProductName)
}

func TestDecodeIdentityShortBuffer(t *testing.T) {
	var id Identity
	assert.Error(t, decodeIdentity(make([]byte, identitySize-1), &id))
}

func TestOneValueLayout(t *testing.T) {
	unlimited := XferCountUnlimited
	b := make([]byte, oneValueSize)
	require.NoError(t, encodeOneValue(b, OneValue{ItemType: TypeInt16, Item: uint32(uint16(unlimited))}))

	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x00}, b)

	v, err := decodeOneValue(b)
	require.NoError(t, err)
	assert.Equal(t, XferCountUnlimited, int16(uint16(v.Item)))

	assert.Error(t, encodeOneValue(make([]byte, 4), OneValue{}))
}

func TestPointerSizedLayouts(t *testing.T) {
	assert.Len(t, encodeCapability(&Capability{}), 4+ptrSize)
	assert.Len(t, encodeUserInterface(&UserInterface{}), 4+ptrSize)
	assert.Len(t, encodeEvent(&EventMsg{}), ptrSize+2)

	ui := encodeUserInterface(&UserInterface{ShowUI: true, Parent: 0x1234})
	assert.Equal(t, []byte{1, 0, 0, 0, 0x34, 0x12}, ui[:6])
}

func TestPayloadDecodesDriverWrites(t *testing.T) {
	var pending PendingXfers

	p, err := marshalPayload(&pending)
	require.NoError(t, err)
	require.Len(t, p.buf, pendingXferSize)

	// driver reports an unknown number of pending transfers
	p.buf[0], p.buf[1] = 0xff, 0xff
	require.NoError(t, p.decode())
	assert.Equal(t, int16(-1), pending.Count)

	var info ImageInfo
	p, err = marshalPayload(&info)
	require.NoError(t, err)
	require.Len(t, p.buf, imageInfoSize)

	p.buf[0] = 200 // x resolution whole part
	p.buf[3] = 0x80
	p.buf[8] = 0x52 // width
	p.buf[9] = 0x03
	p.buf[34] = 24
	require.NoError(t, p.decode())
	assert.InDelta(t, 200.5, info.XResolution.Float(), 1e-9)
	assert.Equal(t, int32(850), info.ImageWidth)
	assert.Equal(t, int16(24), info.BitsPerPixel)
}

func TestMarshalPayloadRejectsUnknownTypes(t *testing.T) {
	_, err := marshalPayload(&struct{}{})
	assert.Error(t, err)

	p, err := marshalPayload(nil)
	require.NoError(t, err)
	assert.Empty(t, p.buf)
}
