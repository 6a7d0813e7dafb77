package fcs

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywind2/t-cell-data/internal/domain"
)

func writerFrame(t *testing.T) *domain.Frame {
	t.Helper()
	channels := []domain.Channel{
		{Name: "FSC-A", Range: 262144},
		{Name: "FL1-A", Stain: "CD3", Range: 262144},
	}
	// Values chosen to be exact in float32 so the round trip is lossless.
	f, err := domain.NewFrame(channels, []float64{
		1024, 0.5,
		-2.25, 65536.5,
		3.75, 100,
	})
	require.NoError(t, err)
	return f
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := writerFrame(t)
	extra := map[string]string{
		"$CYT":       "SimCyto 9000",
		"$SPILLOVER": "2,FSC-A,FL1-A,1,0.05,0.02,1",
		"$TOT":       "999", // structural, must be dropped
		"$P1N":       "HIJACK",
		"$DATE":      "",
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f, extra))

	got, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, "3.1", got.Version)
	require.Equal(t, 3, got.Frame.Events())

	chs := got.Frame.Channels()
	assert.Equal(t, "FSC-A", chs[0].Name)
	assert.Equal(t, "FL1-A", chs[1].Name)
	assert.Equal(t, "CD3", chs[1].Stain)

	rows, err := got.Frame.Values(nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1024, 0.5}, {-2.25, 65536.5}, {3.75, 100}}, rows)

	cyt, _ := got.Keyword("$CYT")
	assert.Equal(t, "SimCyto 9000", cyt)
	tot, _ := got.Keyword("$TOT")
	assert.Equal(t, "3", tot)
	p1n, _ := got.Keyword("$P1N")
	assert.Equal(t, "FSC-A", p1n)
	_, hasDate := got.Keyword("$DATE")
	assert.False(t, hasDate)

	s, err := got.Spillover()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 0.05, s.Matrix.At(0, 1))
}

func TestWriteHeaderOffsets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, writerFrame(t), nil))
	raw := buf.Bytes()

	assert.Equal(t, "FCS3.1", strings.TrimSpace(string(raw[0:10])))

	textBegin, err := headerOffset(raw[10:18])
	require.NoError(t, err)
	assert.Equal(t, headerLen, textBegin)

	textEnd, err := headerOffset(raw[18:26])
	require.NoError(t, err)
	dataBegin, err := headerOffset(raw[26:34])
	require.NoError(t, err)
	dataEnd, err := headerOffset(raw[34:42])
	require.NoError(t, err)

	assert.Equal(t, textEnd+1, dataBegin)
	assert.Equal(t, len(raw)-1, dataEnd)
	assert.Equal(t, 3*2*4, dataEnd-dataBegin+1)

	// The keyword offsets agree with the header.
	f, err := Decode(raw)
	require.NoError(t, err)
	bd, _ := f.Keyword("$BEGINDATA")
	ed, _ := f.Keyword("$ENDDATA")
	assert.Equal(t, strconv.Itoa(dataBegin), bd)
	assert.Equal(t, strconv.Itoa(dataEnd), ed)
}

func TestWriteEscapedDelimiterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, writerFrame(t), map[string]string{"$SRC": "donor/AB"}))

	got, err := Decode(buf.Bytes())
	require.NoError(t, err)
	src, ok := got.Keyword("$SRC")
	require.True(t, ok)
	assert.Equal(t, "donor/AB", src)
}

func TestWriteRejectsEmptyFrame(t *testing.T) {
	f, err := domain.NewFrame([]domain.Channel{{Name: "FSC-A"}}, nil)
	require.NoError(t, err)

	assert.Error(t, Write(&bytes.Buffer{}, f, nil))
	assert.Error(t, Write(&bytes.Buffer{}, nil, nil))
}

func TestWriteDefaultsRange(t *testing.T) {
	f, err := domain.NewFrame([]domain.Channel{{Name: "X"}}, []float64{1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f, nil))

	got, err := Decode(buf.Bytes())
	require.NoError(t, err)
	r, _ := got.Keyword("$P1R")
	assert.Equal(t, "262144", r)
}
