package fcs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/flywind2/t-cell-data/internal/domain"
)

const textDelim = '/'

var paramKeyword = regexp.MustCompile(`^\$P\d+[BENRSG]$`)

// Write encodes a frame as an FCS 3.1 file: float32 values, list mode,
// little-endian. extra keywords are merged into the TEXT segment;
// structural keys the writer owns are dropped, as are empty values.
func Write(w io.Writer, f *domain.Frame, extra map[string]string) error {
	if f == nil || f.Events() == 0 {
		return fmt.Errorf("fcs: nothing to write")
	}
	dataLen := f.Events() * f.NumChannels() * 4

	// $BEGINDATA and $ENDDATA live inside TEXT, so their digit count
	// feeds back into the offsets. Rebuild until the offsets settle.
	var text []byte
	begin, end := 0, 0
	for i := 0; i < 8; i++ {
		text = buildText(f, extra, begin, end)
		nb := headerLen + len(text)
		ne := nb + dataLen - 1
		if nb == begin && ne == end {
			break
		}
		begin, end = nb, ne
	}
	if headerLen+len(text)-1 > 99999999 {
		return fmt.Errorf("fcs: TEXT segment ends past the 8-digit header limit")
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("FCS3.1    ")
	writeHeaderOffset(bw, headerLen)
	writeHeaderOffset(bw, headerLen+len(text)-1)
	writeHeaderOffset(bw, begin)
	writeHeaderOffset(bw, end)
	writeHeaderOffset(bw, 0)
	writeHeaderOffset(bw, 0)
	bw.Write(text)

	var buf [4]byte
	for i := 0; i < f.Events(); i++ {
		for j := 0; j < f.NumChannels(); j++ {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(f.At(i, j))))
			bw.Write(buf[:])
		}
	}
	return bw.Flush()
}

// writeHeaderOffset renders an offset right-justified in 8 ASCII digits.
// Offsets past the field width are written as zero; readers then fall
// back to the TEXT keywords.
func writeHeaderOffset(w *bufio.Writer, v int) {
	if v > 99999999 {
		v = 0
	}
	fmt.Fprintf(w, "%8d", v)
}

func buildText(f *domain.Frame, extra map[string]string, dataBegin, dataEnd int) []byte {
	channels := f.Channels()
	pairs := [][2]string{
		{"$BEGINANALYSIS", "0"},
		{"$ENDANALYSIS", "0"},
		{"$BEGINSTEXT", "0"},
		{"$ENDSTEXT", "0"},
		{"$BEGINDATA", strconv.Itoa(dataBegin)},
		{"$ENDDATA", strconv.Itoa(dataEnd)},
		{"$BYTEORD", "1,2,3,4"},
		{"$DATATYPE", "F"},
		{"$MODE", "L"},
		{"$NEXTDATA", "0"},
		{"$PAR", strconv.Itoa(len(channels))},
		{"$TOT", strconv.Itoa(f.Events())},
	}
	for n, ch := range channels {
		i := n + 1
		pairs = append(pairs,
			[2]string{fmt.Sprintf("$P%dN", i), ch.Name},
			[2]string{fmt.Sprintf("$P%dB", i), "32"},
			[2]string{fmt.Sprintf("$P%dE", i), "0,0"},
			[2]string{fmt.Sprintf("$P%dR", i), strconv.Itoa(channelRange(ch))},
		)
		if ch.Stain != "" {
			pairs = append(pairs, [2]string{fmt.Sprintf("$P%dS", i), ch.Stain})
		}
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" || extra[k] == "" || reservedKeyword(key) {
			continue
		}
		pairs = append(pairs, [2]string{key, extra[k]})
	}

	var b strings.Builder
	b.WriteByte(textDelim)
	for _, kv := range pairs {
		b.WriteString(escapeDelim(kv[0]))
		b.WriteByte(textDelim)
		b.WriteString(escapeDelim(kv[1]))
		b.WriteByte(textDelim)
	}
	return []byte(b.String())
}

func channelRange(ch domain.Channel) int {
	if ch.Range > 0 {
		return int(math.Ceil(ch.Range))
	}
	return 262144
}

func escapeDelim(s string) string {
	return strings.ReplaceAll(s, string(textDelim), string(textDelim)+string(textDelim))
}

func reservedKeyword(key string) bool {
	switch key {
	case "$BEGINANALYSIS", "$ENDANALYSIS", "$BEGINSTEXT", "$ENDSTEXT",
		"$BEGINDATA", "$ENDDATA", "$BYTEORD", "$DATATYPE", "$MODE",
		"$NEXTDATA", "$PAR", "$TOT":
		return true
	}
	return paramKeyword.MatchString(key)
}
