package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywind2/t-cell-data/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2025, 6, 12, 15, 10, 0, 0, time.UTC)
	result := domain.AnalysisResult{
		SampleID:    "smp-abc123",
		ProcessedAt: now,
		Table: &domain.PopulationTable{
			SampleID: "smp-abc123",
			Events:   10000,
			Rows: []domain.PopulationStat{
				{Path: "/Live", Name: "Live", Count: 9200, Frequency: 0.92, ParentFreq: 0.92},
				{Path: "/Live/CD3+", Name: "CD3+", Count: 6100, Frequency: 0.61, ParentFreq: 0.6630},
			},
		},
	}

	msg, err := serializeToMessage(result)
	require.NoError(t, err)

	assert.Equal(t, []byte("smp-abc123"), msg.Key)
	assert.Contains(t, string(msg.Value), `"sample_id":"smp-abc123"`)
	assert.Contains(t, string(msg.Value), `"path":"/Live/CD3+"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "sample_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("smp-abc123"), msg.Headers[0].Value)
	assert.Equal(t, "processed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeToMessage_NoTable(t *testing.T) {
	_, err := serializeToMessage(domain.AnalysisResult{SampleID: "smp-1"})
	require.Error(t, err)
}
