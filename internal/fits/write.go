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
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// WCSKeys are copied from a source image's header onto a written image's
// header when WriteConfig.CopyWcs is set.
var WCSKeys = []string{
	"CTYPE1", "CTYPE2", "CRPIX1", "CRPIX2", "CRVAL1", "CRVAL2",
	"CD1_1", "CD1_2", "CD2_1", "CD2_2", "CDELT1", "CDELT2", "CROTA2",
	"EQUINOX", "RADESYS",
}

// ObsKeys are copied from a source image's header onto a written image's
// header when WriteConfig.CopyObsMetadata is set.
var ObsKeys = []string{
	"OBJECT", "TELESCOP", "INSTRUME", "OBSERVER", "DATE-OBS",
	"EXPTIME", "EXPOSURE", "FILTER", "XBINNING", "YBINNING",
	"GAIN", "OFFSET", "CCD-TEMP", "FOCALLEN", "APTDIA",
}

// WriteConfig controls which extra header content a write carries over from
// the image's own Header, beyond the mandatory SIMPLE/BITPIX/NAXISn cards.
type WriteConfig struct {
	CopyWcs         bool              // copy WCSKeys present in fits.Header
	CopyObsMetadata bool              // copy ObsKeys present in fits.Header
	ExtraHeaders    map[string]string // additional string-valued cards, written after the copied ones
	Software        string            // if non-empty, written as a SOFTWARE card
	History         []string          // HISTORY lines appended after all other cards
}

// WriteFile writes fits to a file with the given name, creating or
// overwriting it as needed.
func (f *Image) WriteFile(fileName string, cfg WriteConfig) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.Write(file, cfg)
}

// Write serializes fits as a single-precision-float FITS primary HDU to w.
// Per the engine's scope, images are always written as BITPIX=-32 with
// BZERO=0/BSCALE=1; integer BSCALE/BZERO round-tripping on write is not
// supported.
func (f *Image) Write(w io.Writer, cfg WriteConfig) error {
	sb := strings.Builder{}
	writeBoolCard(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeIntCard(&sb, "BITPIX", -32, "32-bit floating point")
	writeIntCard(&sb, "NAXIS", int64(len(f.Naxisn)), "number of axes")
	for i, n := range f.Naxisn {
		writeIntCard(&sb, fmt.Sprintf("NAXIS%d", i+1), int64(n), "axis size")
	}
	writeFloatCard(&sb, "BZERO", 0, "zero offset")
	writeFloatCard(&sb, "BSCALE", 1, "value scaler")

	if cfg.CopyWcs {
		writeCopiedKeys(&sb, f.Header, WCSKeys)
	}
	if cfg.CopyObsMetadata {
		writeCopiedKeys(&sb, f.Header, ObsKeys)
	}
	if cfg.Software != "" {
		writeStringCard(&sb, "SOFTWARE", cfg.Software, "")
	}
	for _, k := range sortedKeys(cfg.ExtraHeaders) {
		writeStringCard(&sb, k, cfg.ExtraHeaders[k], "")
	}
	for _, line := range cfg.History {
		writeHistoryCard(&sb, line)
	}
	writeEndCard(&sb)
	padToBlock(&sb)

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}
	return writeFloat32Array(w, f.Data, true)
}

// WriteRGB writes three equally-sized channel images as a single FITS cube
// with NAXIS3=3, the convention used throughout the engine for RGB output.
func WriteRGB(w io.Writer, r, g, b *Image, cfg WriteConfig) error {
	if len(r.Naxisn) != 2 || !EqualInt32Slice(r.Naxisn, g.Naxisn) || !EqualInt32Slice(r.Naxisn, b.Naxisn) {
		return fmt.Errorf("WriteRGB: channel dimension mismatch")
	}
	naxisn := []int32{r.Naxisn[0], r.Naxisn[1], 3}
	data := make([]float32, 3*len(r.Data))
	copy(data[0:], r.Data)
	copy(data[len(r.Data):], g.Data)
	copy(data[2*len(r.Data):], b.Data)

	merged := NewImageFromNaxisn(naxisn, data)
	merged.Header = r.Header
	return merged.Write(w, cfg)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func writeCopiedKeys(sb *strings.Builder, h Header, keys []string) {
	for _, k := range keys {
		if v, ok := h.Strings[k]; ok {
			writeStringCard(sb, k, v, "")
		} else if v, ok := h.Floats[k]; ok {
			writeFloatCard(sb, k, v, "")
		} else if v, ok := h.Ints[k]; ok {
			writeIntCard(sb, k, int64(v), "")
		} else if v, ok := h.Bools[k]; ok {
			writeBoolCard(sb, k, v, "")
		}
	}
}

// writeBoolCard writes a FITS boolean-valued card: 8-char keyword, "= ",
// value right-padded to 20 chars, optional " / comment" trailer, 80 chars total.
func writeBoolCard(sb *strings.Builder, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	writeKeyValueCard(sb, key, fmt.Sprintf("%20s", v), comment)
}

func writeIntCard(sb *strings.Builder, key string, value int64, comment string) {
	writeKeyValueCard(sb, key, fmt.Sprintf("%20d", value), comment)
}

func writeFloatCard(sb *strings.Builder, key string, value float32, comment string) {
	writeKeyValueCard(sb, key, fmt.Sprintf("%20g", value), comment)
}

// writeStringCard quotes value FITS-style ('...' with '' escaping for
// embedded quotes) and pads the string between the quotes to at least 8
// characters, per the standard's minimum string field width.
func writeStringCard(sb *strings.Builder, key, value, comment string) {
	escaped := strings.ReplaceAll(value, "'", "''")
	if len(escaped) < 8 {
		escaped = escaped + strings.Repeat(" ", 8-len(escaped))
	}
	quoted := "'" + escaped + "'"
	writeKeyValueCard(sb, key, quoted, comment)
}

func writeKeyValueCard(sb *strings.Builder, key, valueField, comment string) {
	if len(key) > 8 {
		key = key[:8]
	}
	card := fmt.Sprintf("%-8s= %s", key, valueField)
	if comment != "" {
		if len(comment) > 47 {
			comment = comment[:47]
		}
		card = fmt.Sprintf("%s / %s", card, comment)
	}
	writePaddedCard(sb, card)
}

// writeHistoryCard and writeCommentCard split the keyword (8 chars, left
// padded) from the free-text remainder (up to 72 chars) with no "= " infix.
func writeHistoryCard(sb *strings.Builder, text string) {
	writeFreeformCard(sb, "HISTORY", text)
}

func writeCommentCard(sb *strings.Builder, text string) {
	writeFreeformCard(sb, "COMMENT", text)
}

func writeFreeformCard(sb *strings.Builder, keyword, text string) {
	if len(text) > 72 {
		text = text[:72]
	}
	card := fmt.Sprintf("%-8s%-72s", keyword, text)
	writePaddedCard(sb, card)
}

func writeEndCard(sb *strings.Builder) {
	writePaddedCard(sb, "END")
}

// writePaddedCard pads or truncates card to exactly HeaderLineSize bytes.
func writePaddedCard(sb *strings.Builder, card string) {
	if len(card) < HeaderLineSize {
		card = card + strings.Repeat(" ", HeaderLineSize-len(card))
	} else if len(card) > HeaderLineSize {
		card = card[:HeaderLineSize]
	}
	sb.WriteString(card)
}

// padToBlock pads sb with spaces up to the next fitsBlockSize boundary.
func padToBlock(sb *strings.Builder) {
	rem := sb.Len() % fitsBlockSize
	if rem > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
}

// writeFloat32Array writes FITS binary body data in big-endian order,
// zero-padded to the next 2880-byte block. NaNs are optionally replaced with
// zeros, since most FITS readers choke on them.
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	const chunk = 4096
	buf := make([]byte, chunk*4)

	for base := 0; base < len(data); base += chunk {
		n := len(data) - base
		if n > chunk {
			n = chunk
		}
		for i := 0; i < n; i++ {
			d := data[base+i]
			if replaceNaNs && math.IsNaN(float64(d)) {
				d = 0
			}
			bits := math.Float32bits(d)
			buf[i*4+0] = byte(bits >> 24)
			buf[i*4+1] = byte(bits >> 16)
			buf[i*4+2] = byte(bits >> 8)
			buf[i*4+3] = byte(bits)
		}
		if _, err := w.Write(buf[:n*4]); err != nil {
			return err
		}
	}

	written := int64(len(data)) * 4
	if rem := written % int64(fitsBlockSize); rem > 0 {
		pad := make([]byte, int64(fitsBlockSize)-rem)
		if _, err := w.Write(pad); err != nil {
			return err
		}
	}
	return nil
}
