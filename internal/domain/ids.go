package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// SampleID derives a stable identifier from a sample's source name and
// shape. The same acquisition always produces the same ID, so reruns
// update their earlier records instead of duplicating them.
func SampleID(name string, events int, channels []string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(events)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(channels, ",")))
	return "smp-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// ConfigHash fingerprints an analysis configuration. Run records carry it
// so results computed under different settings never compare as equal.
func ConfigHash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
