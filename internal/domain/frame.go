package domain

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Channel describes one detector parameter of an FCS file.
type Channel struct {
	Name    string  // $PnN short detector name, e.g. "FL1-A"
	Stain   string  // $PnS stain/marker label, e.g. "CD4" (may be empty)
	Range   float64 // $PnR maximum value
	Decades float64 // $PnE first field; 0 means linear amplification
	Gain    float64 // $PnG amplifier gain; 0 is treated as 1
}

// Label returns the marker label when present, otherwise the detector name.
func (c Channel) Label() string {
	if c.Stain != "" {
		return c.Stain
	}
	return c.Name
}

// Frame is a per-cell event matrix: one row per event, one column per channel.
type Frame struct {
	data     *mat.Dense
	channels []Channel
	index    map[string]int // lower-cased $PnN and $PnS → column
}

// NewFrame builds a frame from row-major event data. len(data) must be an
// exact multiple of len(channels).
func NewFrame(channels []Channel, data []float64) (*Frame, error) {
	if len(channels) == 0 {
		return nil, errors.New("frame: no channels")
	}
	if len(data)%len(channels) != 0 {
		return nil, fmt.Errorf("frame: %d values is not a multiple of %d channels", len(data), len(channels))
	}
	rows := len(data) / len(channels)
	var d *mat.Dense
	if rows == 0 {
		// mat.NewDense rejects zero dimensions; keep a nil matrix for empty frames.
		d = nil
	} else {
		d = mat.NewDense(rows, len(channels), data)
	}
	return &Frame{
		data:     d,
		channels: append([]Channel(nil), channels...),
		index:    buildIndex(channels),
	}, nil
}

func buildIndex(channels []Channel) map[string]int {
	idx := make(map[string]int, 2*len(channels))
	// Stain labels first so detector names win on collision.
	for i, c := range channels {
		if c.Stain != "" {
			idx[strings.ToLower(c.Stain)] = i
		}
	}
	for i, c := range channels {
		idx[strings.ToLower(c.Name)] = i
	}
	return idx
}

// Events returns the number of rows.
func (f *Frame) Events() int {
	if f.data == nil {
		return 0
	}
	r, _ := f.data.Dims()
	return r
}

// NumChannels returns the number of columns.
func (f *Frame) NumChannels() int { return len(f.channels) }

// Channels returns a copy of the channel metadata.
func (f *Frame) Channels() []Channel { return append([]Channel(nil), f.channels...) }

// ChannelNames returns the $PnN names in column order.
func (f *Frame) ChannelNames() []string {
	names := make([]string, len(f.channels))
	for i, c := range f.channels {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex resolves a channel by $PnN short name or $PnS stain label,
// case-insensitively.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	i, ok := f.index[strings.ToLower(name)]
	return i, ok
}

// At returns the value of event i in column j.
func (f *Frame) At(i, j int) float64 { return f.data.At(i, j) }

// Column returns a copy of the named channel's values.
func (f *Frame) Column(name string) ([]float64, error) {
	j, ok := f.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("frame: unknown channel %q", name)
	}
	out := make([]float64, f.Events())
	for i := range out {
		out[i] = f.data.At(i, j)
	}
	return out, nil
}

// Row copies event i into dst, allocating when dst is too small.
func (f *Frame) Row(i int, dst []float64) []float64 {
	if cap(dst) < len(f.channels) {
		dst = make([]float64, len(f.channels))
	}
	dst = dst[:len(f.channels)]
	for j := range dst {
		dst[j] = f.data.At(i, j)
	}
	return dst
}

// Values extracts the named channels as per-event rows. With no names it
// returns all channels.
func (f *Frame) Values(names []string) ([][]float64, error) {
	cols := make([]int, 0, len(names))
	if len(names) == 0 {
		for j := range f.channels {
			cols = append(cols, j)
		}
	} else {
		for _, n := range names {
			j, ok := f.ColumnIndex(n)
			if !ok {
				return nil, fmt.Errorf("frame: unknown channel %q", n)
			}
			cols = append(cols, j)
		}
	}
	rows := make([][]float64, f.Events())
	for i := range rows {
		row := make([]float64, len(cols))
		for k, j := range cols {
			row[k] = f.data.At(i, j)
		}
		rows[i] = row
	}
	return rows, nil
}

// Subset returns a frame containing only events where mask is true.
func (f *Frame) Subset(mask []bool) (*Frame, error) {
	if len(mask) != f.Events() {
		return nil, fmt.Errorf("frame: mask length %d != %d events", len(mask), f.Events())
	}
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	data := make([]float64, 0, n*len(f.channels))
	for i, m := range mask {
		if !m {
			continue
		}
		for j := range f.channels {
			data = append(data, f.data.At(i, j))
		}
	}
	return NewFrame(f.channels, data)
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	data := make([]float64, 0, f.Events()*len(f.channels))
	for i := 0; i < f.Events(); i++ {
		for j := range f.channels {
			data = append(data, f.data.At(i, j))
		}
	}
	out, _ := NewFrame(f.channels, data)
	return out
}

// set writes a value in place. Unexported: mutation is reserved for
// compensation and transform code in this package.
func (f *Frame) set(i, j int, v float64) { f.data.Set(i, j, v) }
