// Package output provides utilities for formatting and displaying ration
// run reports.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/iwvelando/ration-optimizer/internal/planner"
	"github.com/iwvelando/ration-optimizer/internal/ration"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/format"
	"github.com/iwvelando/ration-optimizer/pkg/mathutil"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/validation"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Write renders report to w in the named format.
func Write(w io.Writer, report *planner.Report, outputFormat, currency string) error {
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		return err
	}
	switch outputFormat {
	case constants.OutputFormatCSV:
		return CsvFormat(w, report)
	case constants.OutputFormatYAML:
		return YamlFormat(w, report)
	default:
		return PrettyFormat(w, report, currency)
	}
}

// PrettyFormat outputs a human-readable rather than machine-readable report.
func PrettyFormat(w io.Writer, report *planner.Report, currency string) error {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s", report.RunID)
	if report.PriceRevision != "" {
		fmt.Fprintf(&b, " (prices %s)", report.PriceRevision)
	}
	b.WriteString("\n\n")

	for _, sr := range report.Stages {
		res := sr.Result
		fmt.Fprintf(&b, "--- Stage %s ---\n", res.Stage)
		if res.Optimal() {
			fmt.Fprintf(&b, "Cost: %s per kg DM\n", format.Currency(res.Cost, currency))
			b.WriteString("Composition:\n")
			rows := make([][]string, 0, len(res.Composition))
			for _, share := range res.Shares() {
				rows = append(rows, []string{share.Ingredient, format.Percent(share.Percent)})
			}
			writeTable(&b, "  ", rows)
			b.WriteString("Nutrients: " + nutrientLine(p, res.Realized) + "\n")
			if len(res.Binding) > 0 {
				b.WriteString("Binding: " + strings.Join(res.Binding, ", ") + "\n")
			}
		} else {
			fmt.Fprintf(&b, "Status: %s\n", res.Status)
			if res.Message != "" {
				fmt.Fprintf(&b, "Reason: %s\n", res.Message)
			}
		}

		if sr.Baseline != nil {
			fmt.Fprintf(&b, "Baseline cost: %s per kg DM\n", format.Currency(sr.Baseline.Cost, currency))
			b.WriteString("Baseline nutrients: " + nutrientLine(p, sr.Baseline.Realized) + "\n")
		}

		if d := sr.Diagnosis; d != nil {
			fmt.Fprintf(&b, "Feasibility (%s pool of %d):\n", d.Cause, len(d.Pool))
			rows := [][]string{{"Nutrient", "Required", "Achievable", "Finding"}}
			for _, c := range d.Checks {
				achievable := "undefined"
				if c.Defined {
					achievable = p.Sprintf("[%.2f, %.2f]", c.Min, c.Max)
				}
				rows = append(rows, []string{c.Nutrient.String(), c.Band.String(), achievable, string(c.Finding)})
			}
			writeTable(&b, "  ", rows)
			if !res.Optimal() {
				b.WriteString("Diagnosis: " + d.Explain() + "\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("--- Cost comparison ---\n")
	rows := [][]string{{"Stage", "Optimized", "Baseline", "Savings"}}
	for _, sr := range report.Stages {
		c := sr.Comparison
		optimized := "optimization failed"
		if c.Optimized {
			optimized = format.Currency(c.OptimizedCost, currency)
		}
		typical, savings := "-", "-"
		if c.HasBaseline {
			typical = format.Currency(c.BaselineCost, currency)
		}
		if c.Optimized && c.HasBaseline {
			savings = format.Percent(mathutil.Round(c.SavingsPct))
		}
		rows = append(rows, []string{c.Stage, optimized, typical, savings})
	}
	writeTable(&b, "", rows)

	_, err := io.WriteString(w, b.String())
	return err
}

// writeTable aligns rows into columns as wide as their widest cell.
func writeTable(b *strings.Builder, indent string, rows [][]string) {
	tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintln(tw, indent+strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

func nutrientLine(p *message.Printer, v nutrients.Vector) string {
	parts := make([]string, 0, nutrients.Count)
	for _, n := range nutrients.All() {
		parts = append(parts, p.Sprintf("%s %.2f", n, v.Get(n)))
	}
	return strings.Join(parts, " | ")
}

// CsvFormat outputs the report as long-form comma-separated records:
// stage, status, record, item, value.
func CsvFormat(w io.Writer, report *planner.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"stage", "status", "record", "item", "value"}); err != nil {
		return err
	}

	num := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, sr := range report.Stages {
		res := sr.Result
		row := func(record, item, value string) error {
			return cw.Write([]string{res.Stage, string(res.Status), record, item, value})
		}

		var rows [][3]string
		if res.Optimal() {
			rows = append(rows, [3]string{"cost", "", num(res.Cost)})
			rows = append(rows, shareRows("composition", res.Shares(), num)...)
			rows = append(rows, nutrientRows("nutrient", res.Realized, num)...)
		} else {
			rows = append(rows, [3]string{"message", "", res.Message})
		}
		if sr.Baseline != nil {
			rows = append(rows, [3]string{"baseline_cost", "", num(sr.Baseline.Cost)})
			rows = append(rows, shareRows("baseline_composition", sr.Baseline.Shares, num)...)
			rows = append(rows, nutrientRows("baseline_nutrient", sr.Baseline.Realized, num)...)
			if sr.Comparison.Optimized {
				rows = append(rows, [3]string{"savings_pct", "", num(sr.Comparison.SavingsPct)})
			}
		}
		if d := sr.Diagnosis; d != nil {
			rows = append(rows, [3]string{"diagnosis", "", string(d.Cause)})
			for _, c := range d.Checks {
				if !c.Defined {
					rows = append(rows, [3]string{"range_undefined", c.Nutrient.String(), c.Message})
					continue
				}
				rows = append(rows,
					[3]string{"range_min", c.Nutrient.String(), num(c.Min)},
					[3]string{"range_max", c.Nutrient.String(), num(c.Max)},
				)
			}
		}

		for _, r := range rows {
			if err := row(r[0], r[1], r[2]); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func shareRows(record string, shares []ration.Share, num func(float64) string) [][3]string {
	rows := make([][3]string, 0, len(shares))
	for _, s := range shares {
		rows = append(rows, [3]string{record, s.Ingredient, num(s.Percent)})
	}
	return rows
}

func nutrientRows(record string, v nutrients.Vector, num func(float64) string) [][3]string {
	rows := make([][3]string, 0, nutrients.Count)
	for _, n := range nutrients.All() {
		rows = append(rows, [3]string{record, n.String(), num(v.Get(n))})
	}
	return rows
}

// YamlFormat outputs the report as a YAML document.
func YamlFormat(w io.Writer, report *planner.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewView(report)); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}
