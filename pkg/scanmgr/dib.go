package scanmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/bmp"

	"github.com/nik9play/scanmgr/pkg/twain"
)

const (
	bmpFileHeaderSize = 14
	bmpInfoHeaderSize = 40

	biRGB = 0
)

// ErrUnsupportedDIB is returned for bitmap layouts the decoder does not handle
var ErrUnsupportedDIB = errors.New("unsupported DIB")

type dibHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

func dibStride(width int, bitCount int) int {
	return ((width*bitCount + 31) / 32) * 4
}

// DecodeNative decodes the DIB behind a native image handle without taking ownership of it
func DecodeNative(mem twain.Memory, img twain.NativeImage) (image.Image, error) {
	b, err := mem.Lock(twain.MemHandle(img))
	if err != nil {
		return nil, fmt.Errorf("lock native image: %w", err)
	}
	defer mem.Unlock(twain.MemHandle(img))

	return DecodeDIB(b)
}

// DecodeDIB decodes a packed DIB: a BITMAPINFOHEADER, the palette and the pixel rows
func DecodeDIB(b []byte) (image.Image, error) {
	var hdr dibHeader
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read DIB header: %w", err)
	}

	if hdr.Size < bmpInfoHeaderSize || int(hdr.Size) > len(b) {
		return nil, fmt.Errorf("header size %d: %w", hdr.Size, ErrUnsupportedDIB)
	}

	if hdr.Compression != biRGB || hdr.Planes != 1 {
		return nil, fmt.Errorf("compression %d, planes %d: %w", hdr.Compression, hdr.Planes, ErrUnsupportedDIB)
	}

	if hdr.Width <= 0 || hdr.Height == 0 {
		return nil, fmt.Errorf("dimensions %dx%d: %w", hdr.Width, hdr.Height, ErrUnsupportedDIB)
	}

	// direct-color bitmaps may still carry a color table ahead of the bits
	colors := int(hdr.ClrUsed)
	if colors == 0 && hdr.BitCount <= 8 {
		colors = 1 << hdr.BitCount
	}

	paletteStart := int(hdr.Size)
	bitsStart := paletteStart + colors*4

	height := int(hdr.Height)
	if height < 0 {
		height = -height
	}

	width := int(hdr.Width)
	stride := dibStride(width, int(hdr.BitCount))

	if len(b) < bitsStart+stride*height {
		return nil, fmt.Errorf("DIB truncated: have %d bytes, need %d", len(b), bitsStart+stride*height)
	}

	palette := b[paletteStart:bitsStart]
	bits := b[bitsStart : bitsStart+stride*height]

	switch hdr.BitCount {
	case 1, 2, 4:
		bits = widenIndices(bits, width, height, int(hdr.BitCount))
		hdr.BitCount = 8
	case 8, 24, 32:
	default:
		return nil, fmt.Errorf("%d bits per pixel: %w", hdr.BitCount, ErrUnsupportedDIB)
	}

	return decodeBMP(hdr, palette, colors, bits)
}

// widenIndices expands sub-byte palette indices into one byte per pixel
func widenIndices(bits []byte, width, height, bitCount int) []byte {
	srcStride := dibStride(width, bitCount)
	dstStride := dibStride(width, 8)

	perByte := 8 / bitCount
	mask := byte(1<<bitCount - 1)

	out := make([]byte, dstStride*height)

	for y := 0; y < height; y++ {
		src := bits[y*srcStride : (y+1)*srcStride]
		dst := out[y*dstStride : (y+1)*dstStride]

		for x := 0; x < width; x++ {
			shift := uint(8 - bitCount*(x%perByte+1))
			dst[x] = (src[x/perByte] >> shift) & mask
		}
	}

	return out
}

// decodeBMP hands the bitmap to the bmp decoder behind a synthesized file header,
// with a plain 40 byte info header so the decoder's offset checks line up
func decodeBMP(hdr dibHeader, palette []byte, colors int, bits []byte) (image.Image, error) {
	if hdr.BitCount > 8 {
		palette = nil
		colors = 0
	}

	hdr.Size = bmpInfoHeaderSize
	hdr.SizeImage = uint32(len(bits))
	hdr.ClrUsed = uint32(colors)
	hdr.ClrImportant = 0

	offset := bmpFileHeaderSize + bmpInfoHeaderSize + len(palette)

	var buf bytes.Buffer
	buf.Grow(offset + len(bits))

	buf.WriteString("BM")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(offset+len(bits)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(offset))
	_ = binary.Write(&buf, binary.LittleEndian, hdr)
	buf.Write(palette)
	buf.Write(bits)

	img, err := bmp.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode bitmap: %w", err)
	}

	return img, nil
}
