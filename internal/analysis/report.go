package analysis

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// Report is the outcome of one recursive analysis.
type Report struct {
	Strategy  string           `json:"strategy"`
	Timeframe string           `json:"timeframe"`
	Window    models.TimeRange `json:"window"`
	Tolerance float64          `json:"tolerance"`
	Partials  []PartialResult  `json:"partials"`
	// StoppedEarly is set when a matching partial run ended the comparison
	// before every run was compared. Skipped counts the runs left out.
	StoppedEarly bool `json:"stopped_early"`
	Skipped      int  `json:"skipped"`
}

// HasBias reports whether any compared partial run deviated from the
// baseline.
func (r *Report) HasBias() bool {
	for _, p := range r.Partials {
		if !p.Clean() {
			return true
		}
	}
	return false
}

// BiasedColumns returns the sorted names of the columns that differed in any
// partial run.
func (r *Report) BiasedColumns() []string {
	seen := make(map[string]struct{})
	for _, p := range r.Partials {
		for _, d := range p.Diffs {
			seen[d.Column] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for c := range seen {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// Render writes the report as a table of differing columns followed by a
// one-line verdict.
func (r *Report) Render(w io.Writer) error {
	if len(r.Partials) == 0 {
		_, err := fmt.Fprintln(w, "no partial runs were compared")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Startup", "Pair", "Indicator", "Baseline", "Partial", "Diff %"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, p := range r.Partials {
		startup := strconv.Itoa(p.StartupCandles)
		if p.Clean() {
			table.Append([]string{startup, "", "no difference", "", "", ""})
			continue
		}
		for _, m := range p.Mismatches {
			table.Append([]string{startup, m.Pair, "last candle",
				m.Baseline.UTC().Format("2006-01-02 15:04"), m.Partial.UTC().Format("2006-01-02 15:04"), ""})
		}
		for _, pair := range p.MissingPairs {
			table.Append([]string{startup, pair, "no data", "", "", ""})
		}
		for _, d := range p.Diffs {
			pct := "n/a"
			if d.Defined {
				pct = fmt.Sprintf("%.3f%%", d.PctDiff)
			}
			table.Append([]string{startup, d.Pair, d.Column, formatValue(d.Baseline), formatValue(d.Partial), pct})
		}
	}
	table.Render()

	verdict := fmt.Sprintf("strategy %s: no recursive bias detected", r.Strategy)
	if r.HasBias() {
		verdict = fmt.Sprintf("strategy %s: recursive bias in %v", r.Strategy, r.BiasedColumns())
	}
	if r.StoppedEarly {
		verdict += fmt.Sprintf(" (stopped early, %d runs skipped)", r.Skipped)
	}
	_, err := fmt.Fprintln(w, verdict)
	return err
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}
