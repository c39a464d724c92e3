package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *engine.Engine
	profiles *profile.Manager
	rules    *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(eng *engine.Engine, profiles *profile.Manager, ruleEngine *rules.Engine, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, version string) *Handler {
	return &Handler{
		engine:   eng,
		profiles: profiles,
		rules:    ruleEngine,
		repo:     repo,
		cache:    cache,
		bus:      eventBus,
		validate: validator.New(),
		version:  version,
	}
}

// AnalyzeImageRequest is the request body for POST /v1/images/analyze.
type AnalyzeImageRequest struct {
	File       string                    `json:"file" validate:"required"`
	ManualData *domain.TransactionRecord `json:"manualData,omitempty"`
}

// DeepfakeRequest is the request body for POST /v1/deepfake/detect.
type DeepfakeRequest struct {
	File     string `json:"file" validate:"required"`
	FileType string `json:"fileType" validate:"omitempty,oneof=image video"`
	Format   string `json:"format" validate:"omitempty,oneof=base64"`
}

// VoiceRequest is the request body for POST /v1/voice/detect.
type VoiceRequest struct {
	Audio  string `json:"audio" validate:"required"`
	Format string `json:"format" validate:"omitempty,oneof=base64"`
}

// ProfileRequest is the request body for PUT /v1/profile.
type ProfileRequest struct {
	Tier string `json:"tier" validate:"required"`
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id" validate:"required"`
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression" validate:"required"`
	Bands       []domain.RuleBand `json:"bands" validate:"dive"`
	Weight      float64           `json:"weight" validate:"gte=0,lte=1"`
	Enabled     bool              `json:"enabled"`
}

// QueuedResponse is returned for asynchronous submissions.
type QueuedResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// AnalyzeImage handles POST /v1/images/analyze.
func (h *Handler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AnalyzeImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := decodeBase64(req.File)
	if err != nil {
		h.writeError(ctx, w, domain.NewInputError("file", "invalid base64 data", err))
		return
	}

	res, err := h.engine.AnalyzeImage(ctx, GetTenantID(ctx), data, req.ManualData)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ValidateTransaction handles POST /v1/transactions/validate. With
// ?async=true the record is queued on the event bus and validated by the
// worker; the verdict arrives on the verdict topic.
func (h *Handler) ValidateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rec domain.TransactionRecord
	if !h.decode(w, r, &rec) {
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if rec.IsEmpty() {
			h.writeError(ctx, w, domain.NewInputError("transaction", "no transaction fields provided", nil))
			return
		}
		if h.bus == nil {
			writeMessage(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		requestID, err := bus.Submit(ctx, h.bus, tenantID, rec)
		if err != nil {
			slog.Error("failed to queue transaction", "tenant_id", tenantID, "error", err)
			writeMessage(w, http.StatusServiceUnavailable, "failed to queue transaction")
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{RequestID: requestID, Status: "queued"})
		return
	}

	tv, err := h.engine.ValidateTransaction(ctx, tenantID, rec)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, tv)
}

// DetectDeepfake handles POST /v1/deepfake/detect.
func (h *Handler) DetectDeepfake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeepfakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := decodeBase64(req.File)
	if err != nil {
		h.writeError(ctx, w, domain.NewInputError("file", "invalid base64 data", err))
		return
	}

	res, err := h.engine.DetectDeepfake(ctx, GetTenantID(ctx), data, req.FileType)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DetectVoice handles POST /v1/voice/detect.
func (h *Handler) DetectVoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := decodeBase64(req.Audio)
	if err != nil {
		h.writeError(ctx, w, domain.NewInputError("audio", "invalid base64 data", err))
		return
	}

	res, err := h.engine.DetectVoiceDeepfake(ctx, GetTenantID(ctx), data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Capabilities handles GET /v1/capabilities.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Capabilities())
}

// GetProfile handles GET /v1/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.profiles.Active())
}

// UpdateProfile handles PUT /v1/profile. An unknown tier leaves the active
// profile untouched.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.profiles.Reconfigure(domain.ProfileTier(strings.ToLower(strings.TrimSpace(req.Tier))))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	slog.Info("profile reconfigured",
		"tenant_id", GetTenantID(ctx),
		"tier", p.Tier,
		"version", p.Version,
	)
	writeJSON(w, http.StatusOK, p)
}

// Health returns server health status with the capability flags.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        h.version,
		"capabilities":   h.engine.Capabilities(),
		"profile":        h.profiles.Active().Tier,
		"profileVersion": h.profiles.Version(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /v1/rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeMessage(w, http.StatusBadRequest, "rule id is required")
		return
	}

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeMessage(w, http.StatusNotFound, "rule not found")
}

// CreateRule validates a rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /v1/rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    domain.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.rules.ValidateRule(ruleConfig); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if h.repo == nil {
		writeMessage(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, domain.GlobalTenantID, ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)

	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /v1/rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeMessage(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// decode reads and validates a JSON body. It writes the error response and
// returns false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeMessage(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	// Only struct bodies carry validation tags.
	if _, ok := dst.(*domain.TransactionRecord); ok {
		return true
	}
	if err := h.validate.Struct(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	if len(field) > 0 {
		field = strings.ToLower(field[:1]) + field[1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// writeError maps the error taxonomy to HTTP statuses.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.As(err, &cfgErr):
		status, msg = http.StatusBadRequest, cfgErr.Error()
	case errors.Is(err, domain.ErrCapabilityUnavailable):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusServiceUnavailable, "request cancelled"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"tenant_id", GetTenantID(ctx),
			"request_id", GetRequestID(ctx),
			"error", err,
		)
	}

	writeMessage(w, status, msg)
}

// decodeBase64 accepts standard or unpadded base64, optionally as a data URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// writeMessage writes the {"error": msg} body every failure response uses.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
