// Package fcs reads and writes Flow Cytometry Standard files, versions
// 3.0 and 3.1.
//
// A file is HEADER, TEXT, and DATA segments. The header carries ASCII
// byte offsets to the other segments; files too large for the 8-digit
// header fields set those to zero and rely on the $BEGINDATA/$ENDDATA
// keywords instead. The TEXT segment is delimiter-separated key/value
// pairs, with delimiters inside values escaped by doubling. Only list
// mode ($MODE L) and datatypes F, D, and I are supported; integer data
// is masked to the bit width implied by $PnR and rescaled through $PnE
// and $PnG the way acquisition software stores it.
//
// Reading a multi-dataset file yields the first dataset; $NEXTDATA is
// preserved in Keywords for callers that care.
package fcs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// ErrBadFormat marks structural problems: short files, invalid offsets,
// or TEXT segments that cannot be parsed.
var ErrBadFormat = errors.New("fcs: bad format")

// headerLen is the fixed prefix: 10 version bytes plus six 8-digit
// segment offsets.
const headerLen = 58

const maxEvents = 50_000_000

// File is one decoded FCS dataset.
type File struct {
	Version  string            // "3.0" or "3.1"
	Keywords map[string]string // TEXT segment, keys uppercased
	Frame    *domain.Frame
}

// Read decodes the first dataset from r.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fcs: read: %w", err)
	}
	return Decode(data)
}

// Decode parses a complete FCS file held in memory.
func Decode(data []byte) (*File, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadFormat, len(data))
	}
	version := strings.TrimSpace(string(data[0:10]))
	switch version {
	case "FCS3.0", "FCS3.1":
	default:
		return nil, fmt.Errorf("fcs: unsupported version %q", version)
	}

	textBegin, err := headerOffset(data[10:18])
	if err != nil {
		return nil, err
	}
	textEnd, err := headerOffset(data[18:26])
	if err != nil {
		return nil, err
	}
	dataBegin, err := headerOffset(data[26:34])
	if err != nil {
		return nil, err
	}
	dataEnd, err := headerOffset(data[34:42])
	if err != nil {
		return nil, err
	}

	if textBegin < headerLen || textEnd < textBegin || textEnd >= len(data) {
		return nil, fmt.Errorf("%w: TEXT segment [%d, %d] out of bounds", ErrBadFormat, textBegin, textEnd)
	}
	keywords, err := parseText(data[textBegin : textEnd+1])
	if err != nil {
		return nil, err
	}

	f := &File{Version: strings.TrimPrefix(version, "FCS"), Keywords: keywords}

	if dataBegin == 0 && dataEnd == 0 {
		// Oversized file: the header cannot hold the offsets.
		dataBegin, err = keywordInt(keywords, "$BEGINDATA")
		if err != nil {
			return nil, err
		}
		dataEnd, err = keywordInt(keywords, "$ENDDATA")
		if err != nil {
			return nil, err
		}
	}

	frame, err := decodeData(data, keywords, dataBegin, dataEnd)
	if err != nil {
		return nil, err
	}
	f.Frame = frame
	return f, nil
}

// Keyword looks up a TEXT keyword case-insensitively.
func (f *File) Keyword(name string) (string, bool) {
	v, ok := f.Keywords[strings.ToUpper(name)]
	return v, ok
}

// Spillover returns the compensation matrix from $SPILLOVER, or the
// older SPILL and $COMP spellings. It returns (nil, nil) when the file
// has none.
func (f *File) Spillover() (*domain.Spillover, error) {
	for _, key := range []string{"$SPILLOVER", "SPILL", "$COMP", "COMP"} {
		if v, ok := f.Keywords[key]; ok && strings.TrimSpace(v) != "" {
			s, err := domain.ParseSpillover(v)
			if err != nil {
				return nil, fmt.Errorf("fcs: keyword %s: %w", key, err)
			}
			return s, nil
		}
	}
	return nil, nil
}

func headerOffset(field []byte) (int, error) {
	s := strings.TrimSpace(string(field))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: header offset %q", ErrBadFormat, s)
	}
	return n, nil
}

func keywordInt(kw map[string]string, key string) (int, error) {
	v, ok := kw[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing required keyword %s", ErrBadFormat, key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: keyword %s=%q is not a valid count", ErrBadFormat, key, v)
	}
	return n, nil
}

// parseText splits a TEXT segment into keyword pairs. The first byte is
// the delimiter; a doubled delimiter is a literal occurrence inside a
// value.
func parseText(seg []byte) (map[string]string, error) {
	if len(seg) < 2 {
		return nil, fmt.Errorf("%w: TEXT segment too short", ErrBadFormat)
	}
	delim := seg[0]
	var tokens []string
	var cur []byte
	for i := 1; i < len(seg); {
		b := seg[i]
		if b != delim {
			cur = append(cur, b)
			i++
			continue
		}
		if i+1 < len(seg) && seg[i+1] == delim {
			cur = append(cur, delim)
			i += 2
			continue
		}
		tokens = append(tokens, string(cur))
		cur = cur[:0]
		i++
	}
	if len(cur) > 0 {
		// Missing final delimiter; accept the trailing token anyway.
		tokens = append(tokens, string(cur))
	}
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: TEXT segment has no keyword pairs", ErrBadFormat)
	}
	kw := make(map[string]string, len(tokens)/2)
	for i := 0; i+1 < len(tokens); i += 2 {
		key := strings.ToUpper(strings.TrimSpace(tokens[i]))
		if key == "" {
			continue
		}
		kw[key] = tokens[i+1]
	}
	return kw, nil
}

func byteOrder(kw map[string]string) (binary.ByteOrder, error) {
	switch strings.TrimSpace(kw["$BYTEORD"]) {
	case "1,2,3,4", "1,2":
		return binary.LittleEndian, nil
	case "4,3,2,1", "2,1":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("fcs: unsupported $BYTEORD %q", kw["$BYTEORD"])
	}
}

type paramMeta struct {
	channel domain.Channel
	bits    int
	mask    uint64
	decades float64
	scale   float64 // $PnE second field, 0 treated as 1
	gain    float64
}

func parameters(kw map[string]string, datatype string) ([]paramMeta, error) {
	par, err := keywordInt(kw, "$PAR")
	if err != nil {
		return nil, err
	}
	if par <= 0 || par > 10000 {
		return nil, fmt.Errorf("%w: $PAR=%d", ErrBadFormat, par)
	}
	params := make([]paramMeta, par)
	for n := 1; n <= par; n++ {
		p := &params[n-1]
		name, ok := kw[fmt.Sprintf("$P%dN", n)]
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: missing $P%dN", ErrBadFormat, n)
		}
		p.channel.Name = strings.TrimSpace(name)
		p.channel.Stain = strings.TrimSpace(kw[fmt.Sprintf("$P%dS", n)])

		bits, err := keywordInt(kw, fmt.Sprintf("$P%dB", n))
		if err != nil {
			return nil, err
		}
		switch datatype {
		case "F":
			if bits != 32 {
				return nil, fmt.Errorf("fcs: $P%dB=%d with $DATATYPE F, want 32", n, bits)
			}
		case "D":
			if bits != 64 {
				return nil, fmt.Errorf("fcs: $P%dB=%d with $DATATYPE D, want 64", n, bits)
			}
		case "I":
			switch bits {
			case 8, 16, 32, 64:
			default:
				return nil, fmt.Errorf("fcs: unsupported $P%dB=%d with $DATATYPE I", n, bits)
			}
		}
		p.bits = bits

		if r, ok := kw[fmt.Sprintf("$P%dR", n)]; ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: $P%dR=%q", ErrBadFormat, n, r)
			}
			p.channel.Range = v
		}
		p.mask = rangeMask(p.channel.Range, bits)

		p.decades, p.scale = 0, 1
		if e, ok := kw[fmt.Sprintf("$P%dE", n)]; ok {
			d, s, err := parseAmplification(e)
			if err != nil {
				return nil, fmt.Errorf("fcs: $P%dE: %w", n, err)
			}
			// F and D store calibrated values; $PnE applies to integers.
			if datatype == "I" {
				p.decades, p.scale = d, s
			}
			p.channel.Decades = d
		}

		p.gain = 1
		if g, ok := kw[fmt.Sprintf("$P%dG", n)]; ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(g), 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: $P%dG=%q", ErrBadFormat, n, g)
			}
			if v > 0 {
				p.gain = v
			}
			p.channel.Gain = v
		}
	}
	return params, nil
}

// rangeMask returns the bit mask implied by $PnR for integer data. A
// range of 1024 means 10 significant bits regardless of storage width.
func rangeMask(rng float64, bits int) uint64 {
	full := ^uint64(0)
	if bits < 64 {
		full = 1<<uint(bits) - 1
	}
	if rng <= 1 || rng > float64(math.MaxUint32) {
		return full
	}
	used := uint(math.Ceil(math.Log2(rng)))
	if used >= uint(bits) {
		return full
	}
	return 1<<used - 1
}

func parseAmplification(value string) (decades, scale float64, err error) {
	d, s, ok := strings.Cut(strings.TrimSpace(value), ",")
	if !ok {
		return 0, 1, fmt.Errorf("%w: amplification %q", ErrBadFormat, value)
	}
	decades, err = strconv.ParseFloat(strings.TrimSpace(d), 64)
	if err != nil {
		return 0, 1, fmt.Errorf("%w: amplification %q", ErrBadFormat, value)
	}
	scale, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, 1, fmt.Errorf("%w: amplification %q", ErrBadFormat, value)
	}
	if scale == 0 {
		// Legacy files write "d,0" to mean a scale of 1.
		scale = 1
	}
	return decades, scale, nil
}

func decodeData(data []byte, kw map[string]string, begin, end int) (*domain.Frame, error) {
	if mode := strings.TrimSpace(kw["$MODE"]); mode != "L" {
		return nil, fmt.Errorf("fcs: unsupported $MODE %q, only list mode is readable", mode)
	}
	datatype := strings.TrimSpace(strings.ToUpper(kw["$DATATYPE"]))
	switch datatype {
	case "F", "D", "I":
	default:
		return nil, fmt.Errorf("fcs: unsupported $DATATYPE %q", kw["$DATATYPE"])
	}
	order, err := byteOrder(kw)
	if err != nil {
		return nil, err
	}
	events, err := keywordInt(kw, "$TOT")
	if err != nil {
		return nil, err
	}
	if events > maxEvents {
		return nil, fmt.Errorf("%w: $TOT=%d exceeds the %d event limit", ErrBadFormat, events, maxEvents)
	}
	params, err := parameters(kw, datatype)
	if err != nil {
		return nil, err
	}

	channels := make([]domain.Channel, len(params))
	rowBytes := 0
	for i, p := range params {
		channels[i] = p.channel
		rowBytes += p.bits / 8
	}
	if events == 0 {
		return domain.NewFrame(channels, nil)
	}

	required := events * rowBytes
	if begin < headerLen || begin > len(data) {
		return nil, fmt.Errorf("%w: DATA begins at %d", ErrBadFormat, begin)
	}
	// Some writers store $ENDDATA off by one; trust the length we need.
	if begin+required > len(data) {
		return nil, fmt.Errorf("%w: DATA needs %d bytes at offset %d, file has %d",
			ErrBadFormat, required, begin, len(data))
	}
	if end > 0 && end-begin+1 < required {
		return nil, fmt.Errorf("%w: DATA segment [%d, %d] holds fewer than %d bytes",
			ErrBadFormat, begin, end, required)
	}

	values := make([]float64, 0, events*len(params))
	off := begin
	for e := 0; e < events; e++ {
		for i := range params {
			p := &params[i]
			var v float64
			switch datatype {
			case "F":
				v = float64(math.Float32frombits(order.Uint32(data[off:])))
			case "D":
				v = math.Float64frombits(order.Uint64(data[off:]))
			case "I":
				var raw uint64
				switch p.bits {
				case 8:
					raw = uint64(data[off])
				case 16:
					raw = uint64(order.Uint16(data[off:]))
				case 32:
					raw = uint64(order.Uint32(data[off:]))
				case 64:
					raw = order.Uint64(data[off:])
				}
				raw &= p.mask
				v = float64(raw)
				if p.decades > 0 && p.channel.Range > 0 {
					v = p.scale * math.Pow(10, p.decades*v/p.channel.Range)
				}
			}
			if p.gain != 1 && p.decades == 0 {
				v /= p.gain
			}
			values = append(values, v)
			off += p.bits / 8
		}
	}
	return domain.NewFrame(channels, values)
}
