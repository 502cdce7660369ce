package integration

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"strings"
	"testing"

	"github.com/iwvelando/ration-optimizer/internal/config"
	"github.com/iwvelando/ration-optimizer/internal/diagnose"
	"github.com/iwvelando/ration-optimizer/internal/planner"
	"github.com/iwvelando/ration-optimizer/internal/ration"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/output"
	"github.com/iwvelando/ration-optimizer/pkg/testutil"
	"go.uber.org/zap"
)

const exampleConfig = "../../config.yaml.example"

var stageOrder = []string{
	"calf 0-2m", "calf 3-6m", "heifer 7-13m", "heifer 14-23m",
	"close-up 21d prepartum", "fresh 21d postpartum",
	"early lactation", "mid lactation", "late lactation",
	"far-off dry", "close-up dry",
}

func loadExample(t *testing.T) (*config.Configuration, config.Tables) {
	t.Helper()
	conf, err := config.LoadConfiguration(exampleConfig)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	tables, err := conf.Tables()
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	return conf, tables
}

func runExample(t *testing.T, mutate func(*config.Configuration)) (*planner.Report, config.Tables) {
	t.Helper()
	conf, tables := loadExample(t)
	if mutate != nil {
		mutate(conf)
	}
	p, err := conf.NewPlanner(zap.NewNop())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	report, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return report, tables
}

// TestExampleRun runs every stage of the example configuration and checks the
// invariants every stage report must satisfy.
func TestExampleRun(t *testing.T) {
	report, tables := runExample(t, nil)

	if len(report.Stages) != len(stageOrder) {
		t.Fatalf("expected %d stages, got %d", len(stageOrder), len(report.Stages))
	}
	for i, name := range stageOrder {
		if report.Stages[i].Result.Stage != name {
			t.Errorf("stage %d = %q, expected %q", i, report.Stages[i].Result.Stage, name)
		}
	}

	for _, sr := range report.Stages {
		res := sr.Result
		switch res.Status {
		case ration.StatusOptimal:
			validateOptimal(t, tables, sr)
			if sr.Diagnosis != nil {
				t.Errorf("%s: optimal stage diagnosed without diagnose.always", res.Stage)
			}
		case ration.StatusInfeasible, ration.StatusUnresolved:
			if sr.Diagnosis == nil {
				t.Errorf("%s: %s stage has no diagnosis", res.Stage, res.Status)
				continue
			}
			if len(sr.Diagnosis.Checks) != nutrients.Count {
				t.Errorf("%s: expected a check per nutrient, got %d", res.Stage, len(sr.Diagnosis.Checks))
			}
			if sr.Diagnosis.Cause == diagnose.CauseBindingNutrient && len(sr.Diagnosis.Binding) == 0 {
				t.Errorf("%s: binding-nutrient cause without binding nutrients", res.Stage)
			}
		default:
			t.Errorf("%s: unexpected status %s (%s)", res.Stage, res.Status, res.Message)
		}

		if sr.Baseline == nil {
			t.Errorf("%s: expected a baseline evaluation", res.Stage)
			continue
		}
		c := sr.Comparison
		if c.Optimized != res.Optimal() || !c.HasBaseline {
			t.Errorf("%s: comparison flags %+v", res.Stage, c)
		}
		if res.Optimal() {
			expected := (sr.Baseline.Cost - res.Cost) / sr.Baseline.Cost * 100
			if math.Abs(c.SavingsPct-expected) > 1e-9 {
				t.Errorf("%s: savings = %v, expected %v", res.Stage, c.SavingsPct, expected)
			}
		} else if c.SavingsPct != 0 {
			t.Errorf("%s: savings reported for a stage without an optimized ration", res.Stage)
		}
	}
}

func validateOptimal(t *testing.T, tables config.Tables, sr planner.StageReport) {
	t.Helper()
	res := sr.Result
	st, ok := tables.Stages.Get(res.Stage)
	if !ok {
		t.Fatalf("unknown stage %s", res.Stage)
	}

	sum, cost := 0.0, 0.0
	pool := make(map[string]struct{}, len(st.Pool))
	for _, id := range st.Pool {
		pool[id] = struct{}{}
	}
	for id, f := range res.Composition {
		if _, ok := pool[id]; !ok {
			t.Errorf("%s: %s is outside the pool", res.Stage, id)
		}
		lo, hi := st.Inclusion.Range(id)
		if f < lo-constants.FeasibilityTolerance || f > hi+constants.FeasibilityTolerance {
			t.Errorf("%s: %s fraction %v outside [%v, %v]", res.Stage, id, f, lo, hi)
		}
		ing, err := tables.Catalog.Ingredient(id)
		if err != nil {
			t.Fatalf("%s: %v", res.Stage, err)
		}
		sum += f
		cost += f * ing.Cost
	}
	if math.Abs(sum-1) > constants.FeasibilityTolerance {
		t.Errorf("%s: composition sums to %v", res.Stage, sum)
	}
	if math.Abs(cost-res.Cost) > 1e-6 {
		t.Errorf("%s: cost %v does not match composition cost %v", res.Stage, res.Cost, cost)
	}
	if v := testutil.Violations(st, res.Realized, constants.FeasibilityTolerance); len(v) > 0 {
		t.Errorf("%s: realized nutrients violate %v", res.Stage, v)
	}
}

// TestExampleBaselineCosts checks the baseline evaluations against costs
// worked out by hand from the example price table.
func TestExampleBaselineCosts(t *testing.T) {
	report, _ := runExample(t, nil)

	tests := []struct {
		stage string
		cost  float64
		cp    float64
	}{
		// 70% corn stover, 15% wheat bran, 10% sunflower meal, 3% cassava residue, 2% premix
		{"late lactation", 1.7605, 8.275},
		// 60% corn silage, 20% wheat, 10% DDGS, 7% rapeseed meal, 3% premix
		{"mid lactation", 1.9367, 13},
		// 50% flaked corn, 25% soybean meal, 15% rolled oats, 8% alfalfa, 2% premix
		{"calf 0-2m", 3.3355, 19.6},
		// Transition stages reuse the dry and early lactation rations
		{"close-up 21d prepartum", 1.939, 8.85},
		{"fresh 21d postpartum", 3.273, 15.475},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			sr := testutil.FindStage(report.Stages, tt.stage)
			if sr == nil || sr.Baseline == nil {
				t.Fatalf("no baseline for %s", tt.stage)
			}
			if math.Abs(sr.Baseline.Cost-tt.cost) > 1e-9 {
				t.Errorf("baseline cost = %v, expected %v", sr.Baseline.Cost, tt.cost)
			}
			if got := sr.Baseline.Realized.Get(nutrients.CP); math.Abs(got-tt.cp) > 1e-9 {
				t.Errorf("baseline CP = %v, expected %v", got, tt.cp)
			}
		})
	}
}

// TestExampleDiagnoseAlways diagnoses every stage; optimal stages can never
// show a band outside its achievable range.
func TestExampleDiagnoseAlways(t *testing.T) {
	report, _ := runExample(t, func(c *config.Configuration) { c.Diagnose.Always = true })

	for _, sr := range report.Stages {
		if sr.Diagnosis == nil {
			t.Errorf("%s: expected a diagnosis", sr.Result.Stage)
			continue
		}
		if !sr.Result.Optimal() {
			continue
		}
		if sr.Diagnosis.Cause == diagnose.CauseBindingNutrient {
			t.Errorf("%s: optimal stage diagnosed with binding nutrients %v", sr.Result.Stage, sr.Diagnosis.Binding)
		}
		for _, c := range sr.Diagnosis.Checks {
			if !c.Defined {
				continue
			}
			v := sr.Result.Realized.Get(c.Nutrient)
			if v < c.Min-1e-6 || v > c.Max+1e-6 {
				t.Errorf("%s: realized %s %v outside achievable [%v, %v]", sr.Result.Stage, c.Nutrient, v, c.Min, c.Max)
			}
		}
	}
}

// TestExampleBaselinePool diagnoses over each baseline ration's ingredients.
func TestExampleBaselinePool(t *testing.T) {
	report, _ := runExample(t, func(c *config.Configuration) {
		c.Diagnose.Always = true
		c.Diagnose.PoolSource = constants.PoolSourceBaseline
	})

	sr := testutil.FindStage(report.Stages, "mid lactation")
	if sr == nil || sr.Diagnosis == nil {
		t.Fatal("expected a diagnosis for mid lactation")
	}
	expected := "DDGS,corn silage,premix,rapeseed meal,wheat"
	if got := strings.Join(sr.Diagnosis.Pool, ","); got != expected {
		t.Errorf("diagnostic pool = %s, expected %s", got, expected)
	}
}

func TestExampleOutputs(t *testing.T) {
	report, _ := runExample(t, nil)

	var pretty bytes.Buffer
	if err := output.Write(&pretty, report, constants.OutputFormatPretty, "¥"); err != nil {
		t.Fatalf("pretty output: %v", err)
	}
	for _, name := range stageOrder {
		if !strings.Contains(pretty.String(), "--- Stage "+name+" ---") {
			t.Errorf("pretty output missing stage %s", name)
		}
	}
	if !strings.Contains(pretty.String(), "--- Cost comparison ---") {
		t.Error("pretty output missing comparison table")
	}

	var csvBuf bytes.Buffer
	if err := output.Write(&csvBuf, report, constants.OutputFormatCSV, "¥"); err != nil {
		t.Fatalf("csv output: %v", err)
	}
	records, err := csv.NewReader(&csvBuf).ReadAll()
	if err != nil {
		t.Fatalf("csv output does not parse: %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range records[1:] {
		if len(r) != 5 {
			t.Fatalf("record has %d fields: %v", len(r), r)
		}
		seen[r[0]] = true
	}
	if len(seen) != len(stageOrder) {
		t.Errorf("csv covers %d stages, expected %d", len(seen), len(stageOrder))
	}
}

func TestExampleWarnings(t *testing.T) {
	conf, _ := loadExample(t)
	warnings := conf.ValidateConfiguration()

	expected := []string{
		"'calf 3-6m' inclusion override for 'calcium-phosphorus premix' is ignored",
		"'heifer 14-23m' inclusion override for 'beta-carotene' is ignored",
		"'calcium-phosphorus premix' has nutrients but no cost",
		"Stage 'mid lactation' pins ME to exactly 7.02",
	}
	for _, want := range expected {
		found := false
		for _, w := range warnings {
			if strings.Contains(w, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected warning containing %q", want)
		}
	}
}
