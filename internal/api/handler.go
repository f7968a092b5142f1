// Package api serves the Normandy HTTP API: the public signed recipe and
// bundle endpoints, the heartbeat checks and the authenticated recipe
// management endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kilupskalvis/normandy/internal/checks"
	"github.com/kilupskalvis/normandy/internal/core"
	"github.com/kilupskalvis/normandy/internal/models"
	"github.com/kilupskalvis/normandy/internal/store"
	"github.com/kilupskalvis/normandy/internal/targeting"
	"github.com/kilupskalvis/normandy/internal/validation"
)

// Config holds configurable limits for the server.
type Config struct {
	MaxRequestBody    int64   // bytes
	RequestsPerSecond float64 // per client, zero disables limiting
	Burst             int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBody:    1024 * 1024,
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

type server struct {
	svc    *core.Service
	runner *checks.Runner
	cfg    *Config
	logger *slog.Logger
	now    func() time.Time
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown. A nil runner disables the heartbeat checks.
func Handler(svc *core.Service, authn Authenticator, runner *checks.Runner, cfg *Config, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{svc: svc, runner: runner, cfg: cfg, logger: logger, now: time.Now}

	rl := newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	authenticate := authMiddleware(authn, logger)

	// Execution order: rl -> handler
	public := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, rl.middleware)
	}
	// Execution order: auth -> rl -> handler
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, authenticate, rl.middleware)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /__lbheartbeat__", handleLBHeartbeat)
	mux.HandleFunc("GET /__heartbeat__", s.handleHeartbeat)

	mux.Handle("GET /api/v3/recipe/signed/{$}", public(s.handleSignedRecipes))
	mux.Handle("GET /api/v1/fetch_bundle/{$}", public(s.handleFetchBundle))
	mux.Handle("GET /api/v3/recipe/{$}", public(s.handleListRecipes))
	mux.Handle("GET /api/v3/recipe/{id}/{$}", public(s.handleGetRecipe))
	mux.Handle("GET /api/v3/action/{$}", public(s.handleListActions))

	mux.Handle("POST /api/v3/recipe/{$}", withAuth(s.handleCreateRecipe))
	mux.Handle("PATCH /api/v3/recipe/{id}/{$}", withAuth(s.handleUpdateRecipe))
	mux.Handle("POST /api/v3/recipe/{id}/enable/{$}", withAuth(s.handleEnable))
	mux.Handle("POST /api/v3/recipe/{id}/disable/{$}", withAuth(s.handleDisable))
	mux.Handle("POST /api/v3/recipe_revision/{id}/request_approval/{$}", withAuth(s.handleRequestApproval))
	mux.Handle("POST /api/v3/approval_request/{id}/approve/{$}", withAuth(s.handleApprove))
	mux.Handle("POST /api/v3/approval_request/{id}/reject/{$}", withAuth(s.handleReject))
	mux.Handle("POST /api/v3/approval_request/{id}/close/{$}", withAuth(s.handleClose))
	mux.Handle("POST /api/v3/filters/compile/{$}", withAuth(s.handleCompileFilters))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware,
		loggingMiddleware(logger),
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// --- Health ---

func handleLBHeartbeat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusOK, &checks.Report{Messages: []checks.Message{}})
		return
	}
	report := s.runner.Run(r.Context())
	if report.Messages == nil {
		report.Messages = []checks.Message{}
	}
	status := http.StatusOK
	if report.HasErrors() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}

// --- Public ---

func (s *server) handleSignedRecipes(w http.ResponseWriter, r *http.Request) {
	signed, err := s.svc.SignedRecipes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if signed == nil {
		signed = []core.SignedRecipe{}
	}
	writeJSON(w, http.StatusOK, signed)
}

func (s *server) handleFetchBundle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	client := targeting.NewClient(q.Get("locale"), q.Get("country"), q.Get("user_id"), s.now())
	bundle, err := s.svc.FetchBundle(r.Context(), client)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipes": bundle})
}

func (s *server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.svc.ListRecipes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

func (s *server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	detail, err := s.svc.GetRecipe(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.svc.ListActions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// --- Recipes ---

// recipeExtras are request fields that are not part of the revision
// content.
type recipeExtras struct {
	Action string `json:"action"`
	Force  bool   `json:"force"`
}

func (s *server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var data models.RevisionData
	var extras recipeExtras
	if err := decode(body, &data, &extras); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := s.resolveAction(&data, extras.Action); err != nil {
		s.writeError(w, err)
		return
	}

	user := UserFromContext(r.Context())
	recipe, _, err := s.svc.CreateRecipe(r.Context(), user.Identity(), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRecipe(w, r, http.StatusCreated, recipe.ID)
}

// handleUpdateRecipe applies the body over the latest revision content and
// records the result as a new revision.
func (s *server) handleUpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	data, err := s.svc.LatestData(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var extras recipeExtras
	if err := decode(body, &data, &extras); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := s.resolveAction(&data, extras.Action); err != nil {
		s.writeError(w, err)
		return
	}

	user := UserFromContext(r.Context())
	if _, err := s.svc.Revise(r.Context(), id, user.Identity(), data, extras.Force); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRecipe(w, r, http.StatusOK, id)
}

func (s *server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, s.svc.Enable)
}

func (s *server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, s.svc.Disable)
}

func (s *server) setEnabled(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, user string) (*models.EnabledState, error)) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	user := UserFromContext(r.Context())
	if _, err := fn(r.Context(), id, user.Identity()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRecipe(w, r, http.StatusOK, id)
}

func (s *server) writeRecipe(w http.ResponseWriter, r *http.Request, status int, id int64) {
	detail, err := s.svc.GetRecipe(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, detail)
}

func (s *server) resolveAction(data *models.RevisionData, name string) error {
	if name == "" {
		return nil
	}
	action, err := s.svc.Store().GetActionByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return validation.FieldError("action", fmt.Sprintf("Unknown action %q.", name))
	}
	if err != nil {
		return err
	}
	data.ActionID = action.ID
	return nil
}

// --- Approvals ---

func (s *server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	revisionID := r.PathValue("id")
	user := UserFromContext(r.Context())
	req, err := s.svc.RequestApproval(r.Context(), revisionID, user.Identity())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.svc.Approve)
}

func (s *server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.svc.Reject)
}

func (s *server) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, approver, comment string) (*models.ApprovalRequest, error)) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decode(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	user := UserFromContext(r.Context())
	result, err := fn(r.Context(), id, user.Identity(), req.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	if err := s.svc.Close(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Filters ---

type compileRequest struct {
	FilterObject          []json.RawMessage `json:"filter_object"`
	ExtraFilterExpression string            `json:"extra_filter_expression"`
}

func (s *server) handleCompileFilters(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req compileRequest
	if err := decode(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	expr, err := core.CompileFilters(req.FilterObject, req.ExtraFilterExpression)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filter_expression": expr})
}

// --- Helpers ---

// writeError maps service errors to responses. Unknown errors are logged
// and reported as 500.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	var serr *models.StateError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr)
	case errors.As(err, &serr):
		writeJSON(w, http.StatusConflict, errorBody(serr.Message))
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("Not found."))
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
	}
}

func (s *server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxRequestBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("could not read request body"))
		return nil, false
	}
	if int64(len(body)) > s.cfg.MaxRequestBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
		return nil, false
	}
	return body, true
}

// decode unmarshals body into each target. An empty body leaves the
// targets unchanged.
func decode(body []byte, targets ...any) error {
	if len(body) == 0 {
		return nil
	}
	for _, t := range targets {
		if err := json.Unmarshal(body, t); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return nil
}

func pathInt(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("Not found."))
		return 0, false
	}
	return id, true
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
