package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleID(t *testing.T) {
	channels := []string{"FSC-A", "SSC-A", "FL1-A"}

	id := SampleID("donor1.fcs", 50000, channels)
	assert.Len(t, id, len("smp-")+16)
	assert.Regexp(t, `^smp-[0-9a-f]{16}$`, id)

	// Deterministic across calls.
	assert.Equal(t, id, SampleID("donor1.fcs", 50000, channels))

	// Any changed input yields a different ID.
	assert.NotEqual(t, id, SampleID("donor2.fcs", 50000, channels))
	assert.NotEqual(t, id, SampleID("donor1.fcs", 50001, channels))
	assert.NotEqual(t, id, SampleID("donor1.fcs", 50000, []string{"FSC-A"}))
}

func TestConfigHash(t *testing.T) {
	h := ConfigHash("logicle", "template-v2", "compensated")
	assert.Regexp(t, `^[0-9a-f]{16}$`, h)
	assert.Equal(t, h, ConfigHash("logicle", "template-v2", "compensated"))
	assert.NotEqual(t, h, ConfigHash("logicle", "template-v2"))
	assert.NotEqual(t, h, ConfigHash("logicle", "template-v2", "raw"))

	// The separator keeps adjacent fields from running together.
	assert.NotEqual(t, ConfigHash("ab", "c"), ConfigHash("a", "bc"))
}
