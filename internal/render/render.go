// Package render formats run reports for humans and for pipes.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/engine"
	"github.com/mkeller/catsync/internal/maintain"
	"github.com/mkeller/catsync/internal/money"
)

// Format is an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Renderer writes reports in one format.
type Renderer struct {
	w      io.Writer
	format Format
}

// New creates a renderer.
func New(w io.Writer, format Format) *Renderer {
	if format == "" {
		format = FormatTable
	}
	return &Renderer{w: w, format: format}
}

// Report renders the completion summary of a sync run.
func (r *Renderer) Report(rep *engine.Report) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(reportSummary(rep))
	case FormatYAML:
		return r.renderYAML(reportSummary(rep))
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	bold.Fprintf(r.w, "Run %s\n", rep.RunID)
	fmt.Fprintf(r.w, "  processed:   %d\n", rep.Processed)
	green.Fprintf(r.w, "  created:     %d\n", rep.Created)
	green.Fprintf(r.w, "  updated:     %d\n", rep.Updated)
	for _, kind := range skipOrder(rep.Skipped) {
		yellow.Fprintf(r.w, "  %-12s %d\n", string(kind)+":", rep.Skipped[kind])
	}
	if rep.Quarantined > 0 {
		yellow.Fprintf(r.w, "  quarantined: %d\n", rep.Quarantined)
	}
	fmt.Fprintf(r.w, "  unchanged:   %d\n", rep.NoOps)
	if rep.Failed > 0 {
		red.Fprintf(r.w, "  failed:      %d\n", rep.Failed)
	}
	if rep.Merge.Dropped > 0 {
		yellow.Fprintf(r.w, "  malformed source records dropped: %d\n", rep.Merge.Dropped)
	}
	return nil
}

// Plan renders the dry-run view: one block per pending change, with a
// unified diff of the live listing against the desired state.
func (r *Renderer) Plan(rep *engine.Report) error {
	if r.format != FormatTable {
		return r.Report(rep)
	}

	bold := color.New(color.Bold)
	for _, o := range rep.Outcomes {
		switch o.Decision.Kind {
		case domain.DecisionNoOp:
			continue
		case domain.DecisionCreate:
			bold.Fprintf(r.w, "+ create %s  %s\n", o.Identity, o.Source.Title)
		case domain.DecisionUpdate:
			bold.Fprintf(r.w, "~ update %s  %s\n", o.Identity, o.Source.Title)
			if diff := changeDiff(o); diff != "" {
				fmt.Fprint(r.w, indent(diff, "    "))
			}
		default:
			bold.Fprintf(r.w, "! %s %s", o.Decision.Kind, o.Identity)
			if o.Decision.Reason != "" {
				fmt.Fprintf(r.w, "  (%s)", o.Decision.Reason)
			}
			fmt.Fprintln(r.w)
		}
	}
	fmt.Fprintln(r.w)
	return r.Report(rep)
}

// MaintainResult renders the outcome of a maintenance pass.
func (r *Renderer) MaintainResult(res *maintain.Result) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(res)
	case FormatYAML:
		return r.renderYAML(res)
	}
	fmt.Fprintf(r.w, "processed: %d\nupdated:   %d\nno date:   %d\nbad date:  %d\n", res.Processed, res.Updated, res.NoDate, res.InvalidDate)
	if res.Failed > 0 {
		color.New(color.FgRed).Fprintf(r.w, "failed:    %d\n", res.Failed)
	}
	return nil
}

func (r *Renderer) renderJSON(v interface{}) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) renderYAML(v interface{}) error {
	return yaml.NewEncoder(r.w).Encode(v)
}

type summary struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Processed   int            `json:"processed" yaml:"processed"`
	Created     int            `json:"created" yaml:"created"`
	Updated     int            `json:"updated" yaml:"updated"`
	Quarantined int            `json:"quarantined" yaml:"quarantined"`
	Unchanged   int            `json:"unchanged" yaml:"unchanged"`
	Failed      int            `json:"failed" yaml:"failed"`
	Skipped     map[string]int `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Dropped     int            `json:"malformed_dropped,omitempty" yaml:"malformed_dropped,omitempty"`
}

func reportSummary(rep *engine.Report) summary {
	s := summary{
		RunID:       rep.RunID,
		Processed:   rep.Processed,
		Created:     rep.Created,
		Updated:     rep.Updated,
		Quarantined: rep.Quarantined,
		Unchanged:   rep.NoOps,
		Failed:      rep.Failed,
		Dropped:     rep.Merge.Dropped,
	}
	if len(rep.Skipped) > 0 {
		s.Skipped = make(map[string]int, len(rep.Skipped))
		for k, v := range rep.Skipped {
			s.Skipped[string(k)] = v
		}
	}
	return s
}

func skipOrder(skipped map[domain.DecisionKind]int) []domain.DecisionKind {
	kinds := make([]domain.DecisionKind, 0, len(skipped))
	for k := range skipped {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// changeDiff builds a unified diff of the live listing fields against the
// state an update changeset would leave behind.
func changeDiff(o engine.Outcome) string {
	if o.Live == nil || o.Decision.Changes == nil {
		return ""
	}
	live := o.Live
	c := o.Decision.Changes

	before := fieldLines(money.String(live.CompareAt), live.WeightGrams, live.Vendor, live.Tags)

	compareAt := money.String(live.CompareAt)
	if c.NewCompareAt != nil {
		compareAt = money.String(*c.NewCompareAt)
	}
	weight := live.WeightGrams
	if c.NewWeight != nil {
		weight = *c.NewWeight
	}
	vendor := live.Vendor
	if c.NewVendor != nil {
		vendor = *c.NewVendor
	}
	tags := live.Tags
	if len(c.AddTags) > 0 {
		tags = append(append([]string{}, live.Tags...), c.AddTags...)
	}
	after := fieldLines(compareAt, weight, vendor, tags)

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        before,
		B:        after,
		FromFile: "live",
		ToFile:   "source",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return diff
}

func fieldLines(compareAt string, weight int, vendor string, tags []string) []string {
	sorted := append([]string{}, tags...)
	sort.Strings(sorted)
	return []string{
		"compare_at: " + compareAt + "\n",
		fmt.Sprintf("weight: %dg\n", weight),
		"vendor: " + vendor + "\n",
		"tags: " + strings.Join(sorted, ", ") + "\n",
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
