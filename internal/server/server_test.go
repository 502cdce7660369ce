package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const rationYAML = `
priceRevision: "2025-06"
catalog:
  - name: x
    cost: 2
    nutrients: {ME: 0, CP: 10, Starch: 0, NDF: 0, Feed_NDF: 0}
  - name: y
    cost: 5
    nutrients: {ME: 0, CP: 50, Starch: 0, NDF: 0, Feed_NDF: 0}
stages:
  - name: exact
    pool: [x, y]
    requirements:
      CP: {min: 20, max: 20}
  - name: protein gap
    pool: [x, y]
    requirements:
      CP: {min: 60}
baselines:
  - stage: exact
    ration:
      - {ingredient: x, percent: 50}
      - {ingredient: y, percent: 50}
`

func newTestHandler() http.Handler {
	return NewHandler(zap.NewNop(), Limits{}, "test")
}

func decodeOptimize(t *testing.T, rr *httptest.ResponseRecorder) optimizeResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp optimizeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandleOptimizeUpload(t *testing.T) {
	rr := performUpload(t, newTestHandler(), rationYAML, "rations.yaml")
	resp := decodeOptimize(t, rr)

	if len(resp.Report.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(resp.Report.Stages))
	}
	if resp.Report.RunID == "" {
		t.Fatal("expected a run ID")
	}
	if resp.Report.PriceRevision != "2025-06" {
		t.Fatalf("expected price revision 2025-06, got %q", resp.Report.PriceRevision)
	}

	exact := resp.Report.Stages[0]
	if exact.Status != "optimal" || exact.Cost == nil {
		t.Fatalf("expected optimal exact stage, got %+v", exact)
	}
	if d := *exact.Cost - 2.75; d > 1e-6 || d < -1e-6 {
		t.Fatalf("expected cost 2.75, got %v", *exact.Cost)
	}

	gap := resp.Report.Stages[1]
	if gap.Status != "infeasible" {
		t.Fatalf("expected infeasible protein gap stage, got %s", gap.Status)
	}
	if gap.Diagnosis == nil || gap.Diagnosis.Cause != "binding-nutrient" {
		t.Fatalf("expected binding-nutrient diagnosis, got %+v", gap.Diagnosis)
	}

	if !resp.Report.Comparison[0].HasBaseline || resp.Report.Comparison[0].SavingsPct <= 0 {
		t.Fatalf("expected positive savings for exact stage, got %+v", resp.Report.Comparison[0])
	}
	if resp.CSV == "" || !strings.HasPrefix(resp.CSV, "stage,status,record,item,value") {
		t.Fatalf("expected CSV data in response, got %q", resp.CSV)
	}
	if resp.Duration == "" {
		t.Fatal("expected duration in response")
	}

	var warned bool
	for _, w := range resp.Warnings {
		if strings.Contains(w, "pins CP") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected pinned band warning, got %v", resp.Warnings)
	}
}

func TestHandleOptimizeRawBodySelectsStages(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/optimize?stages=protein%20gap", strings.NewReader(rationYAML))
	req.Header.Set("Content-Type", "application/yaml")
	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, req)

	resp := decodeOptimize(t, rr)
	if len(resp.Report.Stages) != 1 || resp.Report.Stages[0].Stage != "protein gap" {
		t.Fatalf("expected only the protein gap stage, got %+v", resp.Report.Stages)
	}
}

func TestHandleOptimizeDiagnoseAlways(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/optimize?diagnoseAlways=true&stages=exact", strings.NewReader(rationYAML))
	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, req)

	resp := decodeOptimize(t, rr)
	exact := resp.Report.Stages[0]
	if exact.Diagnosis == nil {
		t.Fatal("expected a diagnosis for the optimal stage")
	}
	if exact.Diagnosis.Cause != "joint" {
		t.Fatalf("expected joint cause when every band is reachable, got %s", exact.Diagnosis.Cause)
	}
}

func TestHandleOptimizeUnknownStage(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/optimize?stages=calf", strings.NewReader(rationYAML))
	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleOptimizeMissingIngredient(t *testing.T) {
	configYAML := strings.Replace(rationYAML, "pool: [x, y]\n    requirements:\n      CP: {min: 60}", "pool: [x, z]\n    requirements:\n      CP: {min: 60}", 1)
	rr := performUpload(t, newTestHandler(), configYAML, "rations.yaml")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if !strings.Contains(resp["error"], `"z"`) {
		t.Fatalf("expected error naming ingredient z, got %q", resp["error"])
	}
}

func TestHandleOptimizeEditor(t *testing.T) {
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"catalog": []interface{}{
				map[string]interface{}{"name": "x", "cost": 2, "nutrients": map[string]interface{}{"ME": 0, "CP": 10, "Starch": 0, "NDF": 0, "Feed_NDF": 0}},
				map[string]interface{}{"name": "y", "cost": 5, "nutrients": map[string]interface{}{"ME": 0, "CP": 50, "Starch": 0, "NDF": 0, "Feed_NDF": 0}},
			},
			"stages": []interface{}{
				map[string]interface{}{
					"name":         "exact",
					"pool":         []interface{}{"x", "y"},
					"requirements": map[string]interface{}{"CP": map[string]interface{}{"min": 20}},
				},
			},
		},
		"options": map[string]interface{}{"diagnoseAlways": "true"},
	}

	rr := performEditorJSON(t, newTestHandler(), payload, "/api/editor/optimize")
	resp := decodeOptimize(t, rr)

	if len(resp.Report.Stages) != 1 || resp.Report.Stages[0].Status != "optimal" {
		t.Fatalf("expected one optimal stage, got %+v", resp.Report.Stages)
	}
	if resp.Report.Stages[0].Diagnosis == nil {
		t.Fatal("expected diagnosis when diagnoseAlways is set")
	}
}

func TestHandleOptimizeEditorBadOptions(t *testing.T) {
	payload := map[string]interface{}{
		"config":  map[string]interface{}{},
		"options": "fast",
	}
	rr := performEditorJSON(t, newTestHandler(), payload, "/api/editor/optimize")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleConfigExport(t *testing.T) {
	payload := map[string]interface{}{
		"stages": []interface{}{
			map[string]interface{}{"name": "calf", "pool": []interface{}{"hay"}},
		},
		"catalog": []interface{}{
			map[string]interface{}{"name": "hay", "cost": 1.2},
		},
		"output":        map[string]interface{}{"format": "pretty"},
		"priceRevision": "2025-06",
		"extra":         true,
	}

	rr := performEditorJSON(t, newTestHandler(), payload, "/api/editor/export")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	var top []string
	for _, line := range strings.Split(strings.TrimRight(resp["configYaml"], "\n"), "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "-") {
			continue
		}
		top = append(top, strings.SplitN(line, ":", 2)[0])
	}

	expected := []string{"priceRevision", "catalog", "stages", "output", "extra"}
	if strings.Join(top, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected top-level keys %v, got %v", expected, top)
	}
}

func TestHandleVersion(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"version":"test"`) {
		t.Fatalf("unexpected version body %q", rr.Body.String())
	}
}

func TestHandleOptimizeMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/optimize", nil)
	rr := httptest.NewRecorder()

	newTestHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestHandleOptimizeUploadTooLarge(t *testing.T) {
	handler := NewHandler(zap.NewNop(), Limits{MaxUploadBytes: 64}, "test")

	rr := performUpload(t, handler, strings.Repeat("a", 128), "rations.yaml")

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if !strings.Contains(resp["error"], "upload exceeds limit") {
		t.Fatalf("expected upload limit error message, got %q", resp["error"])
	}
}

func TestHandleOptimizeMissingFile(t *testing.T) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/optimize", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	newTestHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp["error"] != "missing configuration file" {
		t.Fatalf("expected missing file error, got %q", resp["error"])
	}
}

func TestHandleOptimizeInvalidYAML(t *testing.T) {
	rr := performUpload(t, newTestHandler(), "catalog: [", "rations.yaml")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if !strings.Contains(resp["error"], "error reading config data") {
		t.Fatalf("expected parse error message, got %q", resp["error"])
	}
}

func TestStatusFor(t *testing.T) {
	rr := performUpload(t, newTestHandler(), strings.Replace(rationYAML, "percent: 50}", "percent: 40}", 1), "rations.yaml")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for a malformed baseline, got %d: %s", rr.Code, rr.Body.String())
	}
}

func performUpload(t *testing.T, handler http.Handler, content, filename string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form data: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/optimize", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func performEditorJSON(t *testing.T, handler http.Handler, payload map[string]interface{}, path string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func TestHandleOptimizeStageLimit(t *testing.T) {
	handler := NewHandler(zap.NewNop(), Limits{MaxStages: 1}, "test")

	rr := performUpload(t, handler, rationYAML, "rations.yaml")
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "request solves 2 stages, limit is 1") {
		t.Fatalf("unexpected error body %s", rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/optimize?stages=exact", strings.NewReader(rationYAML))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	resp := decodeOptimize(t, rr)
	if len(resp.Report.Stages) != 1 {
		t.Fatalf("expected one stage, got %d", len(resp.Report.Stages))
	}
}

func TestHandleOptimizeCapsWorkers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := NewHandler(zap.New(core), Limits{MaxWorkers: 2}, "test")

	body := rationYAML + "solver:\n  workers: 16\n"
	req := httptest.NewRequest(http.MethodPost, "/api/optimize", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	resp := decodeOptimize(t, rr)
	if len(resp.Report.Stages) != 2 {
		t.Fatalf("expected two stages, got %d", len(resp.Report.Stages))
	}

	capped := logs.FilterMessage("capping stage workers").All()
	if len(capped) != 1 {
		t.Fatalf("expected one capping log entry, got %d", len(capped))
	}
	fields := capped[0].ContextMap()
	if fields["requested"] != int64(16) || fields["max"] != int64(2) {
		t.Fatalf("unexpected capping fields %v", fields)
	}
}
