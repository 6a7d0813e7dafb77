package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/fcs"
	"github.com/flywind2/t-cell-data/internal/gating"
)

// loadFCS reads one FCS file from disk.
func loadFCS(path string) (*fcs.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open FCS file", err)
	}
	defer f.Close()

	file, err := fcs.Read(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("cannot parse %s", path), err)
	}
	return file, nil
}

// prepareFrame applies optional compensation and a transform to the file's
// frame. transform may be empty for raw values. Scatter and time channels
// stay on their linear scale.
func prepareFrame(file *fcs.File, compensate bool, transform string) (*domain.Frame, error) {
	frame := file.Frame
	if compensate {
		spill, err := file.Spillover()
		if err != nil {
			return nil, WrapExitError(ExitFailure, "no usable spillover matrix", err)
		}
		frame, err = domain.Compensate(frame, spill)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "compensation failed", err)
		}
	}
	if transform != "" {
		tr, err := domain.ParseTransform(transform)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "bad transform", err)
		}
		var err2 error
		frame, err2 = domain.TransformAll(frame, tr, scatterChannels(frame)...)
		if err2 != nil {
			return nil, WrapExitError(ExitFailure, "transform failed", err2)
		}
	}
	return frame, nil
}

// scatterChannels lists the channels left untransformed: forward/side
// scatter and time.
func scatterChannels(f *domain.Frame) []string {
	var out []string
	for _, name := range f.ChannelNames() {
		upper := strings.ToUpper(name)
		if strings.HasPrefix(upper, "FSC") || strings.HasPrefix(upper, "SSC") || upper == "TIME" {
			out = append(out, name)
		}
	}
	return out
}

// loadTemplate parses a gating template CSV from disk.
func loadTemplate(path string) (*gating.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open template", err)
	}
	defer f.Close()

	tpl, err := gating.ParseTemplate(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bad template", err)
	}
	return tpl, nil
}

// parseChannels splits a comma-separated channel list and verifies every
// channel exists on the frame.
func parseChannels(f *domain.Frame, spec string) ([]string, error) {
	if spec == "" {
		return nil, NewExitError(ExitCommandError, "no channels given; use --channels")
	}
	var out []string
	for _, ch := range strings.Split(spec, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, ok := f.ColumnIndex(ch); !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown channel %q", ch))
		}
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, NewExitError(ExitCommandError, "no channels given; use --channels")
	}
	return out, nil
}

// channelMatrix extracts the named columns as one row per event.
func channelMatrix(f *domain.Frame, channels []string) ([][]float64, error) {
	cols := make([]int, len(channels))
	for i, ch := range channels {
		j, ok := f.ColumnIndex(ch)
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown channel %q", ch))
		}
		cols[i] = j
	}
	data := make([][]float64, f.Events())
	for i := range data {
		row := make([]float64, len(cols))
		for k, j := range cols {
			row[k] = f.At(i, j)
		}
		data[i] = row
	}
	return data, nil
}

// createFile opens an output file for writing.
func createFile(path string) (*os.File, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot create output file", err)
	}
	return out, nil
}
