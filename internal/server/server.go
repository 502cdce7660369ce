package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/ration-optimizer/internal/config"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/output"
	"github.com/iwvelando/ration-optimizer/pkg/rationerr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type handler struct {
	logger        *zap.Logger
	maxUploadSize int64
	maxWorkers    int
	maxStages     int
	version       string
}

type optimizeOptions struct {
	Stages         []string
	DiagnoseAlways bool
}

// NewHandler constructs the HTTP handler that serves the ration API.
// Zero limits fall back to the server defaults.
func NewHandler(logger *zap.Logger, limits Limits, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = constants.DefaultMaxUploadSizeBytes
	}
	if limits.MaxWorkers < 1 {
		limits.MaxWorkers = constants.DefaultServerMaxWorkers
	}

	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{
		logger:        logger,
		maxUploadSize: limits.MaxUploadBytes,
		maxWorkers:    limits.MaxWorkers,
		maxStages:     limits.MaxStages,
		version:       trimmedVersion,
	}

	mux := http.NewServeMux()

	// Optimization endpoint (file upload or raw YAML/JSON body)
	mux.HandleFunc("/api/optimize", h.handleOptimize)

	// Optimization endpoint for editor-driven updates
	mux.HandleFunc("/api/editor/optimize", h.handleOptimizeEditor)

	// Config serialization endpoint for editor downloads
	mux.HandleFunc("/api/editor/export", h.handleConfigExport)

	mux.HandleFunc("/api/version", h.handleVersion)

	return mux
}

type optimizeResponse struct {
	Report   output.View `json:"report"`
	CSV      string      `json:"csv"`
	Warnings []string    `json:"warnings,omitempty"`
	Duration string      `json:"duration"`
}

func (h *handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleOptimize"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	configBytes, configType, status, err := h.readConfig(r)
	if err != nil {
		h.respondErrorWithOp(w, status, err.Error(), op)
		return
	}

	opts := optimizeOptions{DiagnoseAlways: coerceBool(r.URL.Query().Get("diagnoseAlways"))}
	if raw := r.URL.Query().Get("stages"); raw != "" {
		opts.Stages = splitList(raw)
	}

	h.runOptimize(w, r, configBytes, configType, start, op, opts)
}

// readConfig extracts the configuration document from a multipart upload
// (field "file") or from the raw request body.
func (h *handler) readConfig(r *http.Request) ([]byte, string, int, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var src io.Reader = r.Body
	configType := "yaml"
	if mediaType == "application/json" {
		configType = "json"
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
			return nil, "", uploadErrorStatus(err), h.uploadError(err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", http.StatusBadRequest, errors.New("missing configuration file")
		}
		defer func() {
			if closeErr := file.Close(); closeErr != nil {
				h.logger.Warn("failed to close uploaded file",
					zap.String("op", "server.readConfig"),
					zap.Error(closeErr),
				)
			}
		}()
		if strings.HasSuffix(strings.ToLower(header.Filename), ".json") {
			configType = "json"
		}
		src = file
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, "", uploadErrorStatus(err), h.uploadError(err)
	}
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return nil, "", http.StatusBadRequest, errors.New("missing configuration file")
	}
	return buf.Bytes(), configType, http.StatusOK, nil
}

func uploadErrorStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *handler) uploadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return fmt.Errorf("upload exceeds limit of %d bytes", h.maxUploadSize)
	}
	return fmt.Errorf("failed to parse upload: %v", err)
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) handleOptimizeEditor(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleOptimizeEditor"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondErrorWithOp(w, uploadErrorStatus(err), fmt.Sprintf("failed to decode configuration: %v", err), op)
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	configPayload := payload
	if rawConfig, ok := payload["config"]; ok {
		cfgMap, ok := rawConfig.(map[string]interface{})
		if !ok {
			h.respondErrorWithOp(w, http.StatusBadRequest, "invalid config payload: expected object", op)
			return
		}
		configPayload = cfgMap
	}

	opts := optimizeOptions{}
	if rawOptions, ok := payload["options"]; ok {
		optsMap, ok := rawOptions.(map[string]interface{})
		if !ok {
			h.respondErrorWithOp(w, http.StatusBadRequest, "invalid options payload: expected object", op)
			return
		}
		if v, ok := optsMap["diagnoseAlways"]; ok {
			opts.DiagnoseAlways = coerceBool(v)
		}
		if v, ok := optsMap["stages"]; ok {
			opts.Stages = coerceStrings(v)
		}
	}

	configBytes, err := json.Marshal(configPayload)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to encode configuration: %v", err), op)
		return
	}

	h.runOptimize(w, r, configBytes, "json", start, op, opts)
}

func (h *handler) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleConfigExport"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode configuration: %v", err), op)
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	yamlBytes, err := marshalOrderedConfigYAML(payload)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to encode configuration: %v", err), op)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"configYaml": string(yamlBytes),
	})
}

// configKeyOrder is the top-level key order of exported configurations.
// Unknown keys follow in lexical order.
var configKeyOrder = []string{
	"priceRevision", "catalog", "stages", "baselines",
	"solver", "diagnose", "logging", "output",
}

func marshalOrderedConfigYAML(payload map[string]interface{}) ([]byte, error) {
	items := make([]orderedItem, 0, len(payload))
	seen := make(map[string]struct{})

	for _, key := range configKeyOrder {
		if value, ok := payload[key]; ok {
			items = append(items, orderedItem{key: key, value: value})
			seen[key] = struct{}{}
		}
	}

	remainingKeys := make([]string, 0, len(payload))
	for key := range payload {
		if _, already := seen[key]; already {
			continue
		}
		remainingKeys = append(remainingKeys, key)
	}
	sort.Strings(remainingKeys)
	for _, key := range remainingKeys {
		items = append(items, orderedItem{key: key, value: payload[key]})
	}

	return yaml.Marshal(orderedConfig{items: items})
}

type orderedConfig struct {
	items []orderedItem
}

type orderedItem struct {
	key   string
	value interface{}
}

func (o orderedConfig) MarshalYAML() (interface{}, error) {
	mapNode := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
	}

	for _, item := range o.items {
		keyNode := &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: item.key,
		}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(item.value); err != nil {
			return nil, err
		}
		mapNode.Content = append(mapNode.Content, keyNode, valueNode)
	}

	return mapNode, nil
}

func (h *handler) runOptimize(w http.ResponseWriter, r *http.Request, configBytes []byte, configType string, start time.Time, op string, opts optimizeOptions) {
	cfg, err := config.LoadConfigurationFromReader(bytes.NewReader(configBytes), configType)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}
	if opts.DiagnoseAlways {
		cfg.Diagnose.Always = true
	}
	if cfg.Solver.Workers > h.maxWorkers {
		h.logger.Debug("capping stage workers",
			zap.String("op", op),
			zap.Int("requested", cfg.Solver.Workers),
			zap.Int("max", h.maxWorkers),
		)
		cfg.Solver.Workers = h.maxWorkers
	}
	requested := len(opts.Stages)
	if requested == 0 {
		requested = len(cfg.Stages)
	}
	if h.maxStages > 0 && requested > h.maxStages {
		h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request solves %d stages, limit is %d", requested, h.maxStages), op)
		return
	}

	warnings := cfg.ValidateConfiguration()

	p, err := cfg.NewPlanner(h.logger)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}

	report, err := p.Run(r.Context(), opts.Stages)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}

	var csvBuf bytes.Buffer
	if err := output.CsvFormat(&csvBuf, report); err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to render CSV: %v", err), op)
		return
	}

	elapsed := time.Since(start)
	response := optimizeResponse{
		Report:   output.NewView(report),
		CSV:      csvBuf.String(),
		Warnings: warnings,
		Duration: elapsed.String(),
	}

	h.logger.Info("ration run served",
		zap.String("op", op),
		zap.String("runID", report.RunID),
		zap.Int("stages", len(report.Stages)),
		zap.Duration("duration", elapsed),
	)

	h.writeJSON(w, http.StatusOK, response)
}

// statusFor maps run errors onto HTTP status codes. Reference data that
// fails its integrity checks is reported as unprocessable.
func statusFor(err error) int {
	switch rationerr.KindOf(err) {
	case rationerr.KindMissingIngredientData, rationerr.KindMalformedTable, rationerr.KindDegenerateBounds:
		return http.StatusUnprocessableEntity
	case "":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("ration request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func coerceStrings(value interface{}) []string {
	switch v := value.(type) {
	case string:
		return splitList(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

func coerceBool(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return false
		}
		if parsed, err := strconv.ParseBool(trimmed); err == nil {
			return parsed
		}
	case float64:
		return v != 0
	case int:
		return v != 0
	case json.Number:
		if parsed, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return parsed != 0
		}
	}
	return false
}
