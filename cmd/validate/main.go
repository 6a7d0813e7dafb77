// Command validate performs end-to-end integrity checks on a generated
// fixture set: the FCS file itself, compensation round-trips, gating
// hierarchy consistency, and alignment between gated frequencies and the
// fractions recorded at generation time.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -fcs testdata/fixtures/tcell_panel.fcs \
//	  -template testdata/fixtures/template.csv \
//	  -fractions testdata/fixtures/expected_fractions.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/fcs"
	"github.com/flywind2/t-cell-data/internal/gating"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fcsPath := flag.String("fcs", "", "path to the FCS fixture")
	tplPath := flag.String("template", "", "path to the gating template CSV")
	fracPath := flag.String("fractions", "", "path to the expected fractions JSON")
	flag.Parse()

	if *fcsPath == "" || *tplPath == "" || *fracPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*fcsPath, *tplPath, *fracPath); code != 0 {
		os.Exit(code)
	}
}

func run(fcsPath, tplPath, fracPath string) int {
	fmt.Println("=== Cytometry Fixture Validation ===")
	fmt.Println()

	file, err := readFCS(fcsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read FCS: %v\n", err)
		return 1
	}

	tplFile, err := os.Open(tplPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open template: %v\n", err)
		return 1
	}
	tpl, err := gating.ParseTemplate(tplFile)
	tplFile.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse template: %v\n", err)
		return 1
	}

	expected, err := loadFractions(fracPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fractions: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateFCSIntegrity(file),
		validateCompensation(file),
	}
	gatePhase, labeling := validateGating(file.Frame, tpl)
	phases = append(phases, gatePhase, validateFractions(labeling, expected))

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Events: %d  Channels: %d  Populations: %d\n",
		file.Frame.Events(), len(file.Frame.Channels()), len(expected))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func readFCS(path string) (*fcs.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fcs.Read(f)
}

func loadFractions(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fractions map[string]float64
	if err := json.Unmarshal(data, &fractions); err != nil {
		return nil, err
	}
	return fractions, nil
}

// ── Phase 1: FCS Integrity ──
// Keywords must agree with the data segment, and every value must be finite.

func validateFCSIntegrity(file *fcs.File) *phase {
	p := &phase{name: "Phase 1: FCS Integrity (keywords vs data)"}

	frame := file.Frame
	if got := file.Keywords["$TOT"]; got != fmt.Sprint(frame.Events()) {
		p.errorf("$TOT is %q, data segment has %d events", got, frame.Events())
	}
	if got := file.Keywords["$PAR"]; got != fmt.Sprint(len(frame.Channels())) {
		p.errorf("$PAR is %q, data segment has %d channels", got, len(frame.Channels()))
	}
	if got := file.Keywords["$DATATYPE"]; got != "F" {
		p.errorf("$DATATYPE is %q, expected F", got)
	}

	for ci, ch := range frame.Channels() {
		if ch.Name == "" {
			p.errorf("channel %d has empty $PnN", ci+1)
		}
		for ri := 0; ri < frame.Events(); ri++ {
			if v := frame.At(ri, ci); math.IsNaN(v) || math.IsInf(v, 0) {
				p.errorf("channel %s event %d: non-finite value", ch.Name, ri)
				break
			}
		}
	}
	return p
}

// ── Phase 2: Compensation ──
// The spillover matrix (from the file, or a synthetic one when the fixture
// carries none) must be square, invertible, and round-trip cleanly.

func validateCompensation(file *fcs.File) *phase {
	p := &phase{name: "Phase 2: Compensation (spillover round-trip)"}

	spill, err := file.Spillover()
	if err != nil {
		p.errorf("parse $SPILLOVER: %v", err)
		return p
	}
	if spill == nil {
		spill = syntheticSpillover(file.Frame)
		if spill == nil {
			p.errorf("no stained channels to build a test matrix from")
			return p
		}
		fmt.Printf("  Note: no $SPILLOVER keyword, using synthetic %dx%d matrix\n",
			len(spill.Names), len(spill.Names))
	}

	r, c := spill.Matrix.Dims()
	if r != c || r != len(spill.Names) {
		p.errorf("matrix is %dx%d for %d channels", r, c, len(spill.Names))
		return p
	}

	var inv mat.Dense
	if err := inv.Inverse(spill.Matrix); err != nil {
		p.errorf("matrix is singular: %v", err)
		return p
	}

	comp, err := domain.Compensate(file.Frame, spill)
	if err != nil {
		p.errorf("compensate: %v", err)
		return p
	}
	// Compensating again with the inverse multiplies the excursion back out.
	back, err := domain.Compensate(comp, &domain.Spillover{Names: spill.Names, Matrix: &inv})
	if err != nil {
		p.errorf("reverse compensate: %v", err)
		return p
	}

	var worst float64
	for _, name := range spill.Names {
		col, _ := file.Frame.ColumnIndex(name)
		for i := 0; i < file.Frame.Events(); i++ {
			if d := math.Abs(back.At(i, col) - file.Frame.At(i, col)); d > worst {
				worst = d
			}
		}
	}
	if worst > 1e-3 {
		p.errorf("round-trip error %.6f exceeds 1e-3", worst)
	}
	return p
}

// syntheticSpillover builds an identity-dominant matrix with 2% bleed
// between adjacent stained channels.
func syntheticSpillover(f *domain.Frame) *domain.Spillover {
	var names []string
	for _, ch := range f.Channels() {
		if ch.Stain != "" {
			names = append(names, ch.Name)
		}
	}
	if len(names) < 2 {
		return nil
	}
	n := len(names)
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
		if i+1 < n {
			m.Set(i, i+1, 0.02)
			m.Set(i+1, i, 0.02)
		}
	}
	return &domain.Spillover{Names: names, Matrix: m}
}

// ── Phase 3: Gating Consistency ──
// Child populations must nest inside their parents, and label counts must
// agree with the mask counts.

func validateGating(frame *domain.Frame, tpl *gating.Template) (*phase, *domain.Labeling) {
	p := &phase{name: "Phase 3: Gating Consistency (hierarchy)"}

	strategy, err := gating.Build(tpl, frame)
	if err != nil {
		p.errorf("build strategy: %v", err)
		return p, nil
	}
	labeling, err := strategy.Apply(frame)
	if err != nil {
		p.errorf("apply strategy: %v", err)
		return p, nil
	}

	for _, path := range labeling.Populations() {
		mask, ok := labeling.Mask(path)
		if !ok {
			p.errorf("%s: no mask", path)
			continue
		}
		n := 0
		for _, in := range mask {
			if in {
				n++
			}
		}
		if n != labeling.Count(path) {
			p.errorf("%s: mask has %d events, Count reports %d", path, n, labeling.Count(path))
		}

		parent, ok := strategy.Parent(path)
		if !ok || parent == "/" || parent == "" {
			continue
		}
		parentMask, ok := labeling.Mask(parent)
		if !ok {
			p.errorf("%s: parent %s has no mask", path, parent)
			continue
		}
		for i, in := range mask {
			if in && !parentMask[i] {
				p.errorf("%s: event %d is gated but outside parent %s", path, i, parent)
				break
			}
		}
	}

	// Deepest-population labels must match the per-path counts.
	labelCounts := map[string]int{}
	for _, l := range labeling.Labels() {
		labelCounts[l]++
	}
	for label, n := range labelCounts {
		if label == domain.Unlabeled {
			continue
		}
		if got := labeling.Count(label); n > got {
			p.errorf("label %s: %d labeled events but population count is %d", label, n, got)
		}
	}
	return p, labeling
}

// ── Phase 4: Fraction Alignment ──
// Gated frequencies must reproduce the fractions measured during generation.

func validateFractions(labeling *domain.Labeling, expected map[string]float64) *phase {
	p := &phase{name: "Phase 4: Fraction Alignment (vs generator)"}
	if labeling == nil {
		p.errorf("no labeling available (gating failed)")
		return p
	}

	const tolerance = 1e-6
	for path, want := range expected {
		got := labeling.Frequency(path)
		if math.Abs(got-want) > tolerance {
			p.errorf("%s: gated frequency %.6f, generator recorded %.6f", path, got, want)
		}
	}
	return p
}
