// Package report renders gating results for people and downstream tools:
// markdown for console output, CSV for spreadsheets, JSON for machines.
// Column order and number formatting are fixed so output is diffable.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// Version is stamped into report headers. Overridden at build time via
// -ldflags.
var Version = "dev"

// Summary is the header block above a population table.
type Summary struct {
	SampleID    string
	Events      int
	Source      string
	ProcessedAt time.Time
}

// NewSummary builds a header from the table with the processing time
// stamped now.
func NewSummary(table *domain.PopulationTable) Summary {
	return Summary{
		SampleID:    table.SampleID,
		Events:      table.Events,
		ProcessedAt: domain.Now(),
	}
}

// Markdown writes the summary and a population table in GitHub-flavored
// markdown.
func Markdown(w io.Writer, sum Summary, table *domain.PopulationTable) error {
	if table == nil {
		return fmt.Errorf("report: nil table")
	}
	fmt.Fprintf(w, "# Sample %s\n\n", sum.SampleID)
	fmt.Fprintf(w, "- events: %d\n", sum.Events)
	if sum.Source != "" {
		fmt.Fprintf(w, "- source: %s\n", sum.Source)
	}
	fmt.Fprintf(w, "- processed: %s\n", sum.ProcessedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "- tool: tcell %s\n\n", Version)

	fmt.Fprint(w, "| population | count | % total | % parent |")
	for _, ch := range table.Channels {
		fmt.Fprintf(w, " med %s |", ch)
	}
	fmt.Fprint(w, "\n|---|---|---|---|")
	for range table.Channels {
		fmt.Fprint(w, "---|")
	}
	fmt.Fprintln(w)

	for _, row := range table.Rows {
		fmt.Fprintf(w, "| %s | %d | %.4f | %.4f |", row.Path, row.Count, row.Frequency, row.ParentFreq)
		for _, ch := range table.Channels {
			fmt.Fprintf(w, " %.4f |", row.Medians[ch])
		}
		fmt.Fprintln(w)
	}
	return nil
}

// CSV writes one record per population. The median columns follow the
// table's channel order.
func CSV(w io.Writer, table *domain.PopulationTable) error {
	if table == nil {
		return fmt.Errorf("report: nil table")
	}
	cw := csv.NewWriter(w)

	header := []string{"path", "name", "count", "frequency", "parent_frequency"}
	for _, ch := range table.Channels {
		header = append(header, "median_"+ch)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	for _, row := range table.Rows {
		record := []string{
			row.Path,
			row.Name,
			strconv.Itoa(row.Count),
			fmt.Sprintf("%.4f", row.Frequency),
			fmt.Sprintf("%.4f", row.ParentFreq),
		}
		for _, ch := range table.Channels {
			record = append(record, fmt.Sprintf("%.4f", row.Medians[ch]))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonReport struct {
	SampleID    string                  `json:"sample_id"`
	Events      int                     `json:"events"`
	Source      string                  `json:"source,omitempty"`
	ProcessedAt string                  `json:"processed_at"`
	Tool        string                  `json:"tool"`
	Channels    []string                `json:"channels,omitempty"`
	Rows        []domain.PopulationStat `json:"populations"`
}

// JSON writes the report as one indented object.
func JSON(w io.Writer, sum Summary, table *domain.PopulationTable) error {
	if table == nil {
		return fmt.Errorf("report: nil table")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		SampleID:    sum.SampleID,
		Events:      sum.Events,
		Source:      sum.Source,
		ProcessedAt: sum.ProcessedAt.UTC().Format(time.RFC3339),
		Tool:        "tcell " + Version,
		Channels:    table.Channels,
		Rows:        table.Rows,
	})
}
