// Command genfcs generates synthetic FCS fixtures shaped like a T-cell
// staining panel: scatter, viability, lineage, and memory channels drawn
// from seeded Gaussian mixtures. It uses the actual domain and fcs
// packages so fixtures match real pipeline behavior, and writes the
// expected population fractions, a matching gating template, and a
// minimal workspace export alongside the file.
//
// Usage:
//
//	go run ./cmd/genfcs -out testdata/fixtures -events 10000 -seed 1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/fcs"
)

// Gate cuts shared by the generator, the template, and the workspace
// export. Population means sit several sigma away from each cut.
const (
	cutFSC  = 20000.0
	cutLive = 2000.0
	cutCD3  = 2000.0
	cutCD4  = 2000.0
	cutCD8  = 2000.0
	cutMem  = 2000.0
)

var panelChannels = []domain.Channel{
	{Name: "FSC-A", Range: 262144},
	{Name: "FSC-H", Range: 262144},
	{Name: "SSC-A", Range: 262144},
	{Name: "FL1-A", Stain: "LIVE", Range: 262144},
	{Name: "FL2-A", Stain: "CD3", Range: 262144},
	{Name: "FL3-A", Stain: "CD4", Range: 262144},
	{Name: "FL4-A", Stain: "CD8", Range: 262144},
	{Name: "FL5-A", Stain: "CD45RA", Range: 262144},
	{Name: "FL6-A", Stain: "CCR7", Range: 262144},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "output directory for the fixture set")
	events := flag.Int("events", 10000, "number of events to generate")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	// Fixed clock for a reproducible acquisition date keyword.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2025, time.June, 12, 9, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	frame, fractions, err := generate(*events, *seed)
	if err != nil {
		return fmt.Errorf("generating events: %w", err)
	}

	fcsPath := filepath.Join(*outDir, "tcell_panel.fcs")
	if err := writeFCS(fcsPath, frame); err != nil {
		return fmt.Errorf("writing FCS: %w", err)
	}
	log.Printf("wrote %s: %d events, %d channels", fcsPath, frame.Events(), len(frame.Channels()))

	fracPath := filepath.Join(*outDir, "expected_fractions.json")
	if err := writeJSON(fracPath, fractions); err != nil {
		return fmt.Errorf("writing fractions: %w", err)
	}
	log.Printf("wrote %s", fracPath)

	tplPath := filepath.Join(*outDir, "template.csv")
	if err := os.WriteFile(tplPath, []byte(templateCSV()), 0o644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	log.Printf("wrote %s", tplPath)

	wsPath := filepath.Join(*outDir, "workspace.xml")
	if err := os.WriteFile(wsPath, []byte(workspaceXML()), 0o644); err != nil {
		return fmt.Errorf("writing workspace: %w", err)
	}
	log.Printf("wrote %s", wsPath)

	for path, frac := range fractions {
		log.Printf("  %-22s %.4f", path, frac)
	}
	return nil
}

// cellKind indexes the mixture components.
type cellKind int

const (
	kindDebris cellKind = iota
	kindDead
	kindNonT
	kindCD4Naive
	kindCD4Memory
	kindCD8
	kindDN // CD3+ CD4- CD8-
)

// mixture is the component draw order with cumulative probabilities.
var mixture = []struct {
	kind cellKind
	frac float64
}{
	{kindDebris, 0.10},
	{kindDead, 0.08},
	{kindNonT, 0.25},
	{kindCD4Naive, 0.20},
	{kindCD4Memory, 0.15},
	{kindCD8, 0.18},
	{kindDN, 0.04},
}

// generate draws the event matrix and tallies the exact population
// fractions the template's gates should recover.
func generate(events int, seed int64) (*domain.Frame, map[string]float64, error) {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, 0, events*len(panelChannels))
	counts := map[string]int{}

	for i := 0; i < events; i++ {
		row := drawEvent(rng, drawKind(rng))
		data = append(data, row...)
		tally(counts, row)
	}

	frame, err := domain.NewFrame(panelChannels, data)
	if err != nil {
		return nil, nil, err
	}

	fractions := make(map[string]float64, len(counts))
	for path, n := range counts {
		fractions[path] = float64(n) / float64(events)
	}
	return frame, fractions, nil
}

func drawKind(rng *rand.Rand) cellKind {
	r := rng.Float64()
	acc := 0.0
	for _, m := range mixture {
		acc += m.frac
		if r < acc {
			return m.kind
		}
	}
	return mixture[len(mixture)-1].kind
}

// gaussian draws a positive value around mean.
func gaussian(rng *rand.Rand, mean, sd float64) float64 {
	v := mean + sd*rng.NormFloat64()
	if v < 0 {
		return 0
	}
	return v
}

func drawEvent(rng *rand.Rand, kind cellKind) []float64 {
	const (
		lo   = 300.0 // background intensity
		loSD = 120.0
		hi   = 8000.0 // stained intensity
		hiSD = 1200.0
	)
	low := func() float64 { return gaussian(rng, lo, loSD) }
	high := func() float64 { return gaussian(rng, hi, hiSD) }

	fsc := gaussian(rng, 60000, 9000)
	if kind == kindDebris {
		fsc = gaussian(rng, 7000, 2500)
	}
	// FSC-H tracks FSC-A for singlets.
	fscH := fsc * gaussian(rng, 0.95, 0.03) / 0.95
	ssc := gaussian(rng, 30000, 8000)

	live := low()
	if kind == kindDead {
		live = high()
	}

	cd3, cd4, cd8 := low(), low(), low()
	cd45ra, ccr7 := low(), low()
	switch kind {
	case kindCD4Naive:
		cd3, cd4 = high(), high()
		cd45ra, ccr7 = high(), high()
	case kindCD4Memory:
		cd3, cd4 = high(), high()
	case kindCD8:
		cd3, cd8 = high(), high()
		if rng.Float64() < 0.5 {
			cd45ra = high()
		}
	case kindDN:
		cd3 = high()
	}

	return []float64{fsc, fscH, ssc, live, cd3, cd4, cd8, cd45ra, ccr7}
}

// tally counts the event into every population path it belongs to, using
// the same cuts the template gates on. Checking the drawn row rather than
// the mixture component keeps the fractions exact even for draws that
// land across a cut.
func tally(counts map[string]int, row []float64) {
	fsc, live := row[0], row[3]
	cd3, cd4, cd8 := row[4], row[5], row[6]
	cd45ra, ccr7 := row[7], row[8]

	if fsc < cutFSC {
		return
	}
	counts["/cells"]++
	if live >= cutLive {
		return
	}
	counts["/cells/live"]++
	if cd3 < cutCD3 {
		return
	}
	counts["/cells/live/T cells"]++
	switch {
	case cd4 >= cutCD4 && cd8 < cutCD8:
		counts["/cells/live/T cells/CD4+"]++
		if cd45ra >= cutMem && ccr7 >= cutMem {
			counts["/cells/live/T cells/CD4+/naive"]++
		}
	case cd8 >= cutCD8 && cd4 < cutCD4:
		counts["/cells/live/T cells/CD8+"]++
	}
}

func templateCSV() string {
	return fmt.Sprintf(`alias,pop,parent,dims,method,args
cells,,root,FSC-A,boundary,min=%.0f
live,,cells,LIVE,boundary,max=%.0f
T cells,,live,CD3,boundary,min=%.0f
CD4+,,T cells,"CD4,CD8",boundary,xmin=%.0f;ymax=%.0f
CD8+,,T cells,"CD4,CD8",boundary,xmax=%.0f;ymin=%.0f
naive,,CD4+,"CD45RA,CCR7",boundary,xmin=%.0f;ymin=%.0f
`, cutFSC, cutLive, cutCD3, cutCD4, cutCD8, cutCD4, cutCD8, cutMem, cutMem)
}

// workspaceXML is a minimal acquisition-software export of the same
// hierarchy, for exercising the workspace importer against this fixture.
func workspaceXML() string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Workspace>
  <SampleList>
    <Sample>
      <SampleNode name="tcell_panel.fcs">
        <Subpopulations>
          <Population name="cells">
            <Gate>
              <RectangleGate>
                <dimension min="%.0f"><fcs-dimension name="FSC-A"/></dimension>
              </RectangleGate>
            </Gate>
            <Subpopulations>
              <Population name="live">
                <Gate>
                  <RectangleGate>
                    <dimension max="%.0f"><fcs-dimension name="LIVE"/></dimension>
                  </RectangleGate>
                </Gate>
                <Subpopulations>
                  <Population name="T cells">
                    <Gate>
                      <RectangleGate>
                        <dimension min="%.0f"><fcs-dimension name="CD3"/></dimension>
                      </RectangleGate>
                    </Gate>
                    <Subpopulations>
                      <Population name="CD4+">
                        <Gate>
                          <RectangleGate>
                            <dimension min="%.0f"><fcs-dimension name="CD4"/></dimension>
                            <dimension max="%.0f"><fcs-dimension name="CD8"/></dimension>
                          </RectangleGate>
                        </Gate>
                      </Population>
                      <Population name="CD8+">
                        <Gate>
                          <RectangleGate>
                            <dimension max="%.0f"><fcs-dimension name="CD4"/></dimension>
                            <dimension min="%.0f"><fcs-dimension name="CD8"/></dimension>
                          </RectangleGate>
                        </Gate>
                      </Population>
                    </Subpopulations>
                  </Population>
                </Subpopulations>
              </Population>
            </Subpopulations>
          </Population>
        </Subpopulations>
      </SampleNode>
    </Sample>
  </SampleList>
</Workspace>
`, cutFSC, cutLive, cutCD3, cutCD4, cutCD8, cutCD4, cutCD8)
}

func writeFCS(path string, frame *domain.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	extra := map[string]string{
		"$DATE": domain.Now().Format("02-Jan-2006"),
		"$CYT":  "genfcs",
	}
	if err := fcs.Write(f, frame, extra); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
