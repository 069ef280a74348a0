package scanmgr

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nik9play/scanmgr/pkg/twain"
)

func buildDIB(t *testing.T, width, height int32, bitCount uint16, palette [][4]byte, bits []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	hdr := dibHeader{
		Size:     bmpInfoHeaderSize,
		Width:    width,
		Height:   height,
		Planes:   1,
		BitCount: bitCount,
		ClrUsed:  uint32(len(palette)),
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))

	for _, entry := range palette {
		buf.Write(entry[:])
	}
	buf.Write(bits)

	return buf.Bytes()
}

// 2x2, bottom-up: blue white / red green
func rgbDIB(t *testing.T) []byte {
	return buildDIB(t, 2, 2, 24, nil, []byte{
		0x00, 0x00, 0xff, 0x00, 0xff, 0x00, 0, 0,
		0xff, 0x00, 0x00, 0xff, 0xff, 0xff, 0, 0,
	})
}

func TestDecodeDIB24Bit(t *testing.T) {
	img, err := DecodeDIB(rgbDIB(t))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	assert.Equal(t, color.RGBA{0, 0, 0xff, 0xff}, img.At(0, 0))
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, img.At(1, 0))
	assert.Equal(t, color.RGBA{0xff, 0, 0, 0xff}, img.At(0, 1))
	assert.Equal(t, color.RGBA{0, 0xff, 0, 0xff}, img.At(1, 1))
}

func TestDecodeDIB24BitSkipsColorTable(t *testing.T) {
	plain := rgbDIB(t)

	table := [][4]byte{
		{0x11, 0x22, 0x33, 0x00},
		{0x44, 0x55, 0x66, 0x00},
	}
	withTable := buildDIB(t, 2, 2, 24, table, plain[bmpInfoHeaderSize:])

	want, err := DecodeDIB(plain)
	require.NoError(t, err)

	img, err := DecodeDIB(withTable)
	require.NoError(t, err)

	assert.Equal(t, want.Bounds(), img.Bounds())
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, want.At(x, y), img.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestDecodeDIB1BitTopDown(t *testing.T) {
	palette := [][4]byte{
		{0x00, 0x00, 0x00, 0x00},
		{0xff, 0xff, 0xff, 0x00},
	}

	// 10 pixels wide so the row spills into a second byte
	b := buildDIB(t, 10, -2, 1, palette, []byte{
		0b10101010, 0b11000000, 0, 0,
		0, 0, 0, 0,
	})

	img, err := DecodeDIB(b)
	require.NoError(t, err)

	black := color.RGBA{0, 0, 0, 0xff}
	white := color.RGBA{0xff, 0xff, 0xff, 0xff}

	assert.Equal(t, image.Rect(0, 0, 10, 2), img.Bounds())
	assert.Equal(t, white, img.At(0, 0))
	assert.Equal(t, black, img.At(1, 0))
	assert.Equal(t, white, img.At(6, 0))
	assert.Equal(t, black, img.At(7, 0))
	assert.Equal(t, white, img.At(8, 0))
	assert.Equal(t, white, img.At(9, 0))

	for x := 0; x < 10; x++ {
		assert.Equal(t, black, img.At(x, 1), "x=%d", x)
	}
}

func TestDecodeDIBRejectsUnsupported(t *testing.T) {
	t.Run("compressed", func(t *testing.T) {
		b := rgbDIB(t)
		binary.LittleEndian.PutUint32(b[16:20], 1)

		_, err := DecodeDIB(b)
		assert.ErrorIs(t, err, ErrUnsupportedDIB)
	})

	t.Run("16 bit", func(t *testing.T) {
		_, err := DecodeDIB(buildDIB(t, 2, 1, 16, nil, make([]byte, 4)))
		assert.ErrorIs(t, err, ErrUnsupportedDIB)
	})

	t.Run("zero width", func(t *testing.T) {
		_, err := DecodeDIB(buildDIB(t, 0, 1, 24, nil, nil))
		assert.ErrorIs(t, err, ErrUnsupportedDIB)
	})

	t.Run("truncated", func(t *testing.T) {
		b := rgbDIB(t)

		_, err := DecodeDIB(b[:len(b)-4])
		assert.Error(t, err)
	})

	t.Run("short header", func(t *testing.T) {
		_, err := DecodeDIB([]byte{40, 0, 0})
		assert.Error(t, err)
	})
}

func TestDecodeNativeUnlocks(t *testing.T) {
	mem := twain.NewHeapMemory()
	img := nativeDIB(t, mem, rgbDIB(t))

	decoded, err := DecodeNative(mem, img)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 2, 2), decoded.Bounds())
	assert.Equal(t, 0, mem.Locked())

	// the caller still owns the handle
	assert.Equal(t, 1, mem.Outstanding())
}

func nativeDIB(t *testing.T, mem *twain.HeapMemory, b []byte) twain.NativeImage {
	t.Helper()

	h, err := mem.Alloc(len(b))
	require.NoError(t, err)

	block, err := mem.Lock(h)
	require.NoError(t, err)
	copy(block, b)
	mem.Unlock(h)

	return twain.NativeImage(h)
}
