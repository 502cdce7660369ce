package output

import (
	"time"

	"github.com/iwvelando/ration-optimizer/internal/baseline"
	"github.com/iwvelando/ration-optimizer/internal/diagnose"
	"github.com/iwvelando/ration-optimizer/internal/planner"
	"github.com/iwvelando/ration-optimizer/internal/ration"
)

// View is the serializable form of a planner report, shared by the YAML
// output and the HTTP API.
type View struct {
	RunID         string                `json:"runId" yaml:"runId"`
	PriceRevision string                `json:"priceRevision,omitempty" yaml:"priceRevision,omitempty"`
	GeneratedAt   string                `json:"generatedAt" yaml:"generatedAt"`
	Stages        []StageView           `json:"stages" yaml:"stages"`
	Comparison    []baseline.Comparison `json:"comparison" yaml:"comparison"`
}

// StageView is one stage of a View.
type StageView struct {
	Stage       string             `json:"stage" yaml:"stage"`
	Status      string             `json:"status" yaml:"status"`
	Cost        *float64           `json:"cost,omitempty" yaml:"cost,omitempty"`
	Composition []ration.Share     `json:"composition,omitempty" yaml:"composition,omitempty"`
	Nutrients   map[string]float64 `json:"nutrients,omitempty" yaml:"nutrients,omitempty"`
	Binding     []string           `json:"binding,omitempty" yaml:"binding,omitempty"`
	Message     string             `json:"message,omitempty" yaml:"message,omitempty"`
	Baseline    *BaselineView      `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Diagnosis   *DiagnosisView     `json:"diagnosis,omitempty" yaml:"diagnosis,omitempty"`
}

// BaselineView is the evaluated baseline ration of a stage.
type BaselineView struct {
	Cost        float64            `json:"cost" yaml:"cost"`
	Composition []ration.Share     `json:"composition" yaml:"composition"`
	Nutrients   map[string]float64 `json:"nutrients" yaml:"nutrients"`
}

// DiagnosisView is the feasibility analysis of a stage.
type DiagnosisView struct {
	Pool        []string    `json:"pool" yaml:"pool"`
	Cause       string      `json:"cause" yaml:"cause"`
	Explanation string      `json:"explanation" yaml:"explanation"`
	Ranges      []RangeView `json:"ranges" yaml:"ranges"`
}

// RangeView is one nutrient's achievable range next to its requirement.
type RangeView struct {
	Nutrient string   `json:"nutrient" yaml:"nutrient"`
	Required string   `json:"required" yaml:"required"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Finding  string   `json:"finding" yaml:"finding"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewView converts a report.
func NewView(report *planner.Report) View {
	v := View{
		RunID:         report.RunID,
		PriceRevision: report.PriceRevision,
		GeneratedAt:   report.GeneratedAt.UTC().Format(time.RFC3339),
		Stages:        make([]StageView, 0, len(report.Stages)),
		Comparison:    make([]baseline.Comparison, 0, len(report.Stages)),
	}
	for _, sr := range report.Stages {
		v.Stages = append(v.Stages, newStageView(sr))
		v.Comparison = append(v.Comparison, sr.Comparison)
	}
	return v
}

func newStageView(sr planner.StageReport) StageView {
	res := sr.Result
	sv := StageView{
		Stage:   res.Stage,
		Status:  string(res.Status),
		Message: res.Message,
	}
	if res.Optimal() {
		cost := res.Cost
		sv.Cost = &cost
		sv.Composition = res.Shares()
		sv.Nutrients = res.Realized.Map()
		sv.Binding = res.Binding
		sv.Message = ""
	}
	if sr.Baseline != nil {
		sv.Baseline = &BaselineView{
			Cost:        sr.Baseline.Cost,
			Composition: sr.Baseline.Shares,
			Nutrients:   sr.Baseline.Realized.Map(),
		}
	}
	if sr.Diagnosis != nil {
		sv.Diagnosis = newDiagnosisView(*sr.Diagnosis)
	}
	return sv
}

func newDiagnosisView(d diagnose.Diagnosis) *DiagnosisView {
	dv := &DiagnosisView{
		Pool:        d.Pool,
		Cause:       string(d.Cause),
		Explanation: d.Explain(),
	}
	for _, c := range d.Checks {
		rv := RangeView{
			Nutrient: c.Nutrient.String(),
			Required: c.Band.String(),
			Finding:  string(c.Finding),
			Message:  c.Message,
		}
		if c.Defined {
			lo, hi := c.Min, c.Max
			rv.Min, rv.Max = &lo, &hi
		}
		dv.Ranges = append(dv.Ranges, rv)
	}
	return dv
}
