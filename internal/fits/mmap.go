// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fits

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"golang.org/x/exp/mmap"

	"github.com/astrokit/astroengine/internal/xerrors"
)

// Mapped is a read-only memory mapping of a FITS file, shared across all
// decoded frames taken from it. The mapping outlives any number of decoded
// Images, which always copy their pixel data out of the mapping.
type Mapped struct {
	r    *mmap.ReaderAt
	path string
}

// OpenMapped memory-maps path for read-only, random access.
func OpenMapped(path string) (*Mapped, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.IoFailure, "fits.OpenMapped", path, err)
	}
	return &Mapped{r: r, path: path}, nil
}

func (m *Mapped) Close() error { return m.r.Close() }

func (m *Mapped) Len() int64 { return int64(m.r.Len()) }

// Read implements io.ReaderAt-backed reading of an arbitrary byte range.
func (m *Mapped) read(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > m.Len() {
		return nil, xerrors.New(xerrors.MalformedFits, "fits.read",
			fmt.Sprintf("range [%d,%d) exceeds mapping length %d", offset, offset+length, m.Len()))
	}
	buf := make([]byte, length)
	if _, err := m.r.ReadAt(buf, offset); err != nil {
		return nil, xerrors.Wrap(xerrors.IoFailure, "fits.read", m.path, err)
	}
	return buf, nil
}

// Hdu describes one Header-Data Unit located within a mapping.
type Hdu struct {
	HeaderStart int64
	DataStart   int64
	DataLength  int64
	Header      Header
	Bitpix      int32
	Naxisn      []int32
	Bzero       float32
	Bscale      float32
}

func (h *Hdu) numPixels() int64 {
	n := int64(1)
	for _, ax := range h.Naxisn {
		n *= int64(ax)
	}
	return n
}

// BytesPerPixel returns the on-disk byte width of a FITS BITPIX value.
func BytesPerPixel(bitpix int32) (int64, error) { return bytesPerPixel(bitpix) }

func bytesPerPixel(bitpix int32) (int64, error) {
	switch bitpix {
	case 8:
		return 1, nil
	case 16:
		return 2, nil
	case 32:
		return 4, nil
	case -32:
		return 4, nil
	case -64:
		return 8, nil
	default:
		return 0, xerrors.New(xerrors.MalformedFits, "fits.bytesPerPixel", fmt.Sprintf("unsupported BITPIX %d", bitpix))
	}
}

// parseHduAt parses the header card sequence starting at offset and returns
// the Hdu descriptor (header plus the computed, 2880-aligned data range).
// It reuses Header.read (the teacher's regex-based card parser), handing it
// a bytes.Reader over the remaining mapped bytes: random access into mapped
// memory does not change the line-level grammar of FITS cards, and Header.read
// already stops consuming blocks as soon as it sees the END card.
func (m *Mapped) parseHduAt(offset int64) (*Hdu, error) {
	const maxHeaderBytes = int64(200 * fitsBlockSize)
	avail := m.Len() - offset
	if avail > maxHeaderBytes {
		avail = maxHeaderBytes
	}
	raw, err := m.read(offset, avail)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MalformedFits, "fits.parseHduAt", "truncated header", err)
	}

	h := NewHeader()
	if err := h.read(bytes.NewReader(raw), 0, io.Discard); err != nil {
		return nil, xerrors.Wrap(xerrors.MalformedFits, "fits.parseHduAt", "header parse error", err)
	}
	if !h.End {
		return nil, xerrors.New(xerrors.MalformedFits, "fits.parseHduAt", "header did not terminate with END")
	}

	dataStart := offset + int64(h.Length) // Header.read tracks bytes consumed, already block-aligned

	bitpixVal, ok := h.Ints["BITPIX"]
	if !ok {
		return nil, xerrors.New(xerrors.MalformedFits, "fits.parseHduAt", "missing BITPIX")
	}
	if _, err := bytesPerPixel(bitpixVal); err != nil {
		return nil, err
	}

	naxis, ok := h.Ints["NAXIS"]
	if !ok {
		return nil, xerrors.New(xerrors.MalformedFits, "fits.parseHduAt", "missing NAXIS")
	}
	naxisn := make([]int32, naxis)
	for i := int32(0); i < naxis; i++ {
		key := fmt.Sprintf("NAXIS%d", i+1)
		v, ok := h.Ints[key]
		if !ok {
			return nil, xerrors.New(xerrors.MalformedFits, "fits.parseHduAt", "missing "+key)
		}
		naxisn[i] = v
	}

	bzero, bscale := float32(0), float32(1)
	if v, ok := h.Floats["BZERO"]; ok {
		bzero = v
	} else if v, ok := h.Ints["BZERO"]; ok {
		bzero = float32(v)
	}
	if v, ok := h.Floats["BSCALE"]; ok {
		bscale = v
	} else if v, ok := h.Ints["BSCALE"]; ok {
		bscale = float32(v)
	}

	hdu := &Hdu{
		HeaderStart: offset,
		DataStart:   dataStart,
		Header:      h,
		Bitpix:      bitpixVal,
		Naxisn:      naxisn,
		Bzero:       bzero,
		Bscale:      bscale,
	}

	bpp, _ := bytesPerPixel(bitpixVal)
	dataBytes := hdu.numPixels() * bpp
	hdu.DataLength = ceilToBlock(dataBytes)

	if dataStart+hdu.DataLength > m.Len() {
		return nil, xerrors.New(xerrors.MalformedFits, "fits.parseHduAt",
			fmt.Sprintf("data range [%d,%d) exceeds mapping length %d", dataStart, dataStart+hdu.DataLength, m.Len()))
	}

	return hdu, nil
}

func ceilToBlock(n int64) int64 {
	if n%int64(fitsBlockSize) == 0 {
		return n
	}
	return (n/int64(fitsBlockSize) + 1) * int64(fitsBlockSize)
}

// nextHduOffset returns the byte offset of the HDU following hdu.
func (h *Hdu) nextHduOffset() int64 {
	return h.DataStart + h.DataLength
}

// FindImageHdu walks HDUs from the start of the mapping and returns the
// first one suitable for 2-D extraction: NAXIS>=2, NAXIS1>1, NAXIS2>1.
func (m *Mapped) FindImageHdu() (*Hdu, error) {
	offset := int64(0)
	for offset < m.Len() {
		hdu, err := m.parseHduAt(offset)
		if err != nil {
			return nil, err
		}
		if len(hdu.Naxisn) >= 2 && hdu.Naxisn[0] > 1 && hdu.Naxisn[1] > 1 {
			return hdu, nil
		}
		offset = hdu.nextHduOffset()
	}
	return nil, xerrors.New(xerrors.MalformedFits, "fits.FindImageHdu", "no image-like HDU found")
}

// FindCubeHdu walks HDUs and returns the first 3-D HDU (NAXIS==3, NAXIS3>1).
func (m *Mapped) FindCubeHdu() (*Hdu, error) {
	offset := int64(0)
	for offset < m.Len() {
		hdu, err := m.parseHduAt(offset)
		if err != nil {
			return nil, err
		}
		if len(hdu.Naxisn) == 3 && hdu.Naxisn[2] > 1 {
			return hdu, nil
		}
		offset = hdu.nextHduOffset()
	}
	return nil, xerrors.New(xerrors.MalformedFits, "fits.FindCubeHdu", "no cube HDU found")
}

// DecodeImage reads and decodes the full pixel array for hdu out of the
// mapping into a new Image. The returned Data slice is a fresh allocation;
// it does not alias the mapping.
func (m *Mapped) DecodeImage(hdu *Hdu) (*Image, error) {
	bpp, err := bytesPerPixel(hdu.Bitpix)
	if err != nil {
		return nil, err
	}
	n := hdu.numPixels()
	raw, err := m.read(hdu.DataStart, n*bpp)
	if err != nil {
		return nil, err
	}
	data := decodePixels(raw, hdu.Bitpix, hdu.Bscale, hdu.Bzero)

	img := NewImageFromNaxisn(hdu.Naxisn, data)
	img.Header = hdu.Header
	img.Bitpix = hdu.Bitpix
	img.Bzero = hdu.Bzero
	img.Bscale = hdu.Bscale
	if exp, ok := hdu.Header.Floats["EXPOSURE"]; ok {
		img.Exposure = exp
	} else if exp, ok := hdu.Header.Floats["EXPTIME"]; ok {
		img.Exposure = exp
	}
	return img, nil
}

// DecodePixelAt decodes a single pixel value at a given byte offset within
// the mapping, for cube spectrum extraction which must not populate the
// frame cache.
func (m *Mapped) DecodePixelAt(offset int64, bitpix int32, bscale, bzero float32) (float32, error) {
	bpp, err := bytesPerPixel(bitpix)
	if err != nil {
		return 0, err
	}
	raw, err := m.read(offset, bpp)
	if err != nil {
		return 0, err
	}
	out := decodePixels(raw, bitpix, bscale, bzero)
	return out[0], nil
}

// DecodeFrameAt decodes a contiguous run of npix pixels starting at a byte
// offset, used by the lazy cube to extract one z-frame without decoding the
// whole cube.
func (m *Mapped) DecodeFrameAt(offset int64, npix int64, bitpix int32, bscale, bzero float32) ([]float32, error) {
	bpp, err := bytesPerPixel(bitpix)
	if err != nil {
		return nil, err
	}
	raw, err := m.read(offset, npix*bpp)
	if err != nil {
		return nil, err
	}
	return decodePixels(raw, bitpix, bscale, bzero), nil
}

// decodePixels decodes a big-endian byte buffer into v' = v*bscale + bzero
// f32 values, per BITPIX. Mirrors the original implementation's
// decode_pixels/decode_single_pixel.
func decodePixels(raw []byte, bitpix int32, bscale, bzero float32) []float32 {
	switch bitpix {
	case 8:
		out := make([]float32, len(raw))
		for i, b := range raw {
			out[i] = float32(b)*bscale + bzero
		}
		return out
	case 16:
		n := len(raw) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(uint16(raw[2*i])<<8 | uint16(raw[2*i+1]))
			out[i] = float32(v)*bscale + bzero
		}
		return out
	case 32:
		n := len(raw) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(uint32(raw[4*i])<<24 | uint32(raw[4*i+1])<<16 | uint32(raw[4*i+2])<<8 | uint32(raw[4*i+3]))
			out[i] = float32(v)*bscale + bzero
		}
		return out
	case -32:
		n := len(raw) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := uint32(raw[4*i])<<24 | uint32(raw[4*i+1])<<16 | uint32(raw[4*i+2])<<8 | uint32(raw[4*i+3])
			out[i] = math.Float32frombits(bits)*bscale + bzero
		}
		return out
	case -64:
		n := len(raw) / 8
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			var bits uint64
			for j := 0; j < 8; j++ {
				bits = bits<<8 | uint64(raw[8*i+j])
			}
			out[i] = float32(math.Float64frombits(bits))*bscale + bzero
		}
		return out
	default:
		return nil
	}
}
