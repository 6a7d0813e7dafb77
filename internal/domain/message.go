package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBadRequest marks a sample request that can never be processed.
// The pipeline commits such messages instead of retrying them.
var ErrBadRequest = errors.New("invalid sample request")

// Source kinds accepted in a SampleRequest.
const (
	SourceFile    = "file"    // path on the local filesystem
	SourceURL     = "url"     // direct HTTP(S) download
	SourceDataset = "dataset" // repository accession, resolved via the catalog
)

// Source names one FCS acquisition to analyze.
type Source struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// SampleRequest is the JSON body consumed from the request stream. SampleID
// is optional; when empty the pipeline derives one from the file contents.
type SampleRequest struct {
	SampleID   string `json:"sample_id,omitempty"`
	Source     Source `json:"source"`
	Template   string `json:"template,omitempty"` // gating template path or name
	Compensate bool   `json:"compensate"`
	Transform  string `json:"transform,omitempty"` // e.g. "logicle", "arcsinh:150"
	MaxEvents  int    `json:"max_events,omitempty"`
}

// ParseSampleRequest decodes and validates a request payload. Failures wrap
// ErrBadRequest so callers can tell malformed input from transient faults.
func ParseSampleRequest(data []byte) (SampleRequest, error) {
	var req SampleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SampleRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	switch req.Source.Kind {
	case SourceFile, SourceURL, SourceDataset:
	case "":
		return SampleRequest{}, fmt.Errorf("%w: missing source kind", ErrBadRequest)
	default:
		return SampleRequest{}, fmt.Errorf("%w: unknown source kind %q", ErrBadRequest, req.Source.Kind)
	}
	if req.Source.Ref == "" {
		return SampleRequest{}, fmt.Errorf("%w: missing source ref", ErrBadRequest)
	}
	if req.MaxEvents < 0 {
		return SampleRequest{}, fmt.Errorf("%w: negative max_events", ErrBadRequest)
	}
	if req.Transform != "" {
		if _, err := ParseTransform(req.Transform); err != nil {
			return SampleRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	return req, nil
}

// RawMessage is one record fetched from the request stream together with
// the acknowledgement that marks it processed.
type RawMessage struct {
	Key    []byte
	Value  []byte
	Commit func(ctx context.Context) error
}

// AnalysisResult is the outcome of gating one sample.
type AnalysisResult struct {
	SampleID    string
	ProcessedAt time.Time
	Table       *PopulationTable
}

// OutputMessage is the JSON shape published to the results stream.
type OutputMessage struct {
	SampleID    string           `json:"sample_id"`
	ProcessedAt time.Time        `json:"processed_at"`
	Events      int              `json:"events"`
	Populations []PopulationStat `json:"populations"`
}

// SerializeResult encodes an analysis result for publishing.
func SerializeResult(r AnalysisResult) ([]byte, error) {
	if r.Table == nil {
		return nil, errors.New("serialize: result has no population table")
	}
	msg := OutputMessage{
		SampleID:    r.SampleID,
		ProcessedAt: r.ProcessedAt.UTC(),
		Events:      r.Table.Events,
		Populations: r.Table.Rows,
	}
	return json.Marshal(msg)
}
