package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/fcs"
	"github.com/flywind2/t-cell-data/internal/gating"
	"github.com/flywind2/t-cell-data/internal/observability"
)

// Fetcher materializes a remote file on local disk.
type Fetcher interface {
	Fetch(ctx context.Context, file domain.RemoteFile) (string, error)
}

// AnalyzerConfig holds the analysis defaults applied when a request leaves
// them unset.
type AnalyzerConfig struct {
	// Template is the default gating template. Requests may override it
	// with a template path of their own.
	Template *gating.Template
	// Transform in flag form, e.g. "logicle" or "arcsinh:150".
	Transform string
}

// Analyzer implements SampleAnalyzer: it resolves a sample request to a
// local FCS file and runs compensation, transformation, and gating on it.
// A nil catalog disables dataset accessions; a nil fetcher disables URL
// sources.
type Analyzer struct {
	catalog domain.Catalog
	fetcher Fetcher
	cfg     AnalyzerConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(catalog domain.Catalog, fetcher Fetcher, cfg AnalyzerConfig, logger *slog.Logger, metrics *observability.Metrics) *Analyzer {
	return &Analyzer{
		catalog: catalog,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Analyze runs the full per-sample flow. All failures are terminal for the
// request: the file either parses and gates or it never will, so the
// pipeline skips rather than retries.
func (a *Analyzer) Analyze(ctx context.Context, raw domain.RawMessage) (domain.AnalysisResult, error) {
	start := time.Now()

	req, err := domain.ParseSampleRequest(raw.Value)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	localPath, err := a.resolve(ctx, req)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	result, err := a.analyzeFile(localPath, req)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	if a.metrics != nil {
		a.metrics.EventsGated.Add(float64(result.Table.Events))
		a.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	}
	a.logger.Info("sample analyzed",
		"sample_id", result.SampleID,
		"events", result.Table.Events,
		"populations", len(result.Table.Rows),
	)
	return result, nil
}

// resolve turns the request's source reference into a local file path.
func (a *Analyzer) resolve(ctx context.Context, req domain.SampleRequest) (string, error) {
	switch req.Source.Kind {
	case domain.SourceFile:
		return req.Source.Ref, nil
	case domain.SourceURL:
		if a.fetcher == nil {
			return "", fmt.Errorf("analyze: url sources are disabled")
		}
		return a.fetcher.Fetch(ctx, domain.RemoteFile{
			Name: path.Base(req.Source.Ref),
			URL:  req.Source.Ref,
		})
	case domain.SourceDataset:
		if a.catalog == nil || a.fetcher == nil {
			return "", fmt.Errorf("analyze: dataset sources are disabled")
		}
		ds, err := a.catalog.Dataset(ctx, req.Source.Ref)
		if err != nil {
			return "", fmt.Errorf("analyze: resolve %s: %w", req.Source.Ref, err)
		}
		files := ds.FCSFiles()
		if len(files) == 0 {
			return "", fmt.Errorf("analyze: dataset %s has no FCS files", req.Source.Ref)
		}
		return a.fetcher.Fetch(ctx, files[0])
	}
	return "", fmt.Errorf("analyze: unknown source kind %q", req.Source.Kind)
}

func (a *Analyzer) analyzeFile(localPath string, req domain.SampleRequest) (domain.AnalysisResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}
	defer f.Close()

	file, err := fcs.Read(f)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: read %s: %w", localPath, err)
	}
	frame := file.Frame

	if req.MaxEvents > 0 && frame.Events() > req.MaxEvents {
		frame, err = headSubset(frame, req.MaxEvents)
		if err != nil {
			return domain.AnalysisResult{}, err
		}
	}

	if req.Compensate {
		spill, err := file.Spillover()
		if err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
		}
		frame, err = domain.Compensate(frame, spill)
		if err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
		}
	}

	spec := req.Transform
	if spec == "" {
		spec = a.cfg.Transform
	}
	tr, err := domain.ParseTransform(spec)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}
	frame, err = domain.TransformAll(frame, tr, linearChannels(frame)...)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}

	tpl, err := a.template(req)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	strategy, err := gating.Build(tpl, frame)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}
	labeling, err := strategy.Apply(frame)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}

	sampleID := req.SampleID
	if sampleID == "" {
		sampleID = domain.SampleID(path.Base(localPath), frame.Events(), frame.ChannelNames())
	}
	table, err := domain.BuildTable(sampleID, frame, labeling, gatedChannels(strategy))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}

	return domain.AnalysisResult{
		SampleID:    sampleID,
		ProcessedAt: domain.Now(),
		Table:       table,
	}, nil
}

func (a *Analyzer) template(req domain.SampleRequest) (*gating.Template, error) {
	if req.Template == "" {
		if a.cfg.Template == nil {
			return nil, fmt.Errorf("analyze: no gating template configured")
		}
		return a.cfg.Template, nil
	}
	f, err := os.Open(req.Template)
	if err != nil {
		return nil, fmt.Errorf("analyze: template: %w", err)
	}
	defer f.Close()
	return gating.ParseTemplate(f)
}

// headSubset keeps the first n events, which is deterministic and
// acquisition-order preserving.
func headSubset(f *domain.Frame, n int) (*domain.Frame, error) {
	mask := make([]bool, f.Events())
	for i := 0; i < n; i++ {
		mask[i] = true
	}
	return f.Subset(mask)
}

// linearChannels lists the channels that stay on a linear scale: light
// scatter and the acquisition time column.
func linearChannels(f *domain.Frame) []string {
	var out []string
	for _, c := range f.Channels() {
		name := strings.ToUpper(c.Name)
		if strings.HasPrefix(name, "FSC") || strings.HasPrefix(name, "SSC") || name == "TIME" {
			out = append(out, c.Name)
		}
	}
	return out
}

// gatedChannels collects every channel any gate reads, for median reporting.
func gatedChannels(s *domain.Strategy) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.Populations() {
		g, ok := s.Gate(p)
		if !ok {
			continue
		}
		for _, d := range g.Dims() {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}
