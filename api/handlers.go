package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/plugwatch/credcipher"
	"github.com/hazyhaar/plugwatch/refresh"
	"github.com/hazyhaar/plugwatch/scheduler"
	"github.com/hazyhaar/plugwatch/store"
)

func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

// AccountRequest is the body for POST /api/v1/accounts.
type AccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleUpsertAccount registers (or re-keys) the caller's operator account.
// The password is sealed before it reaches the store and never logged.
func (s *Service) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	acct, err := s.st.UpsertAccount(r.Context(), userFrom(r.Context()), req.Email)
	if err != nil {
		s.internal(w, "upsert account", err)
		return
	}

	sealed, err := s.cipher.Encrypt(req.Password)
	if err != nil {
		s.internal(w, "seal credential", err)
		return
	}
	if err := s.st.SaveCredential(r.Context(), acct.ID, sealed, credcipher.Algorithm); err != nil {
		s.internal(w, "save credential", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"account_id": acct.ID,
		"email":      acct.Email,
	})
}

// handleLogin acquires a fresh session for the caller's account right now,
// outside the scheduled refresh cycle.
func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	acct, err := s.st.AccountForUser(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.internal(w, "load account", err)
		return
	}
	if acct == nil {
		http.Error(w, "no account registered", http.StatusNotFound)
		return
	}

	cred, err := s.st.GetCredential(r.Context(), acct.ID)
	if err != nil {
		s.internal(w, "load credential", err)
		return
	}
	if cred == nil {
		http.Error(w, "no credential registered", http.StatusNotFound)
		return
	}

	password, err := s.cipher.Decrypt(cred.Secret)
	if err != nil {
		s.internal(w, "open credential", err)
		return
	}

	cookies, err := s.acquire.Acquire(r.Context(), acct.Email, password)
	if err != nil {
		s.logger.Warn("api: login failed", "account", acct.ID, "error", err)
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	stored, hasAuth, err := s.st.StoreCookies(r.Context(), acct.ID, cookies)
	if err != nil {
		s.internal(w, "store cookies", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cookies_stored": stored,
		"authenticated":  hasAuth,
	})
}

// PointRequest is the body for POST /api/v1/points.
type PointRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

func (s *Service) handleCreatePoint(w http.ResponseWriter, r *http.Request) {
	var req PointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	pt, err := s.st.InsertPoint(r.Context(), userFrom(r.Context()), req.Name, req.Notes)
	if err != nil {
		s.internal(w, "insert point", err)
		return
	}
	writeJSON(w, http.StatusCreated, pt)
}

func (s *Service) handleListPoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.st.ListPoints(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.internal(w, "list points", err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleGetPoint returns the point with its latest metadata snapshot and
// the current state of each connector.
func (s *Service) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	pt, ok := s.loadPoint(w, r)
	if !ok {
		return
	}

	info, err := s.st.GetPointInfo(r.Context(), pt.ID)
	if err != nil {
		s.internal(w, "load point info", err)
		return
	}
	connectors, err := s.st.ListConnectors(r.Context(), pt.ID)
	if err != nil {
		s.internal(w, "list connectors", err)
		return
	}
	states, err := s.st.CurrentStatesForPoint(r.Context(), pt.ID)
	if err != nil {
		s.internal(w, "load states", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"point":      pt,
		"info":       info,
		"connectors": connectors,
		"states":     states,
	})
}

// ConnectorRequest is the body for POST /api/v1/points/{id}/connectors.
type ConnectorRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

func (s *Service) handleAddConnector(w http.ResponseWriter, r *http.Request) {
	pt, ok := s.loadPoint(w, r)
	if !ok {
		return
	}

	var req ConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}

	c := &store.Connector{
		PointID:  pt.ID,
		Name:     req.Name,
		Type:     req.Type,
		URL:      req.URL,
		Position: req.Position,
		Active:   true,
	}
	if err := s.st.InsertConnector(r.Context(), c); err != nil {
		s.internal(w, "insert connector", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleRefreshPoint runs a status batch over the point's active
// connectors. Per-target failures come back in the response instead of
// failing the request.
func (s *Service) handleRefreshPoint(w http.ResponseWriter, r *http.Request) {
	pt, ok := s.loadPoint(w, r)
	if !ok {
		return
	}
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	connectors, err := s.st.ActiveConnectors(r.Context(), pt.ID)
	if err != nil {
		s.internal(w, "load connectors", err)
		return
	}
	if len(connectors) == 0 {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	results := s.orch.StatusBatch(r.Context(), acct.ID, connectors)
	writeJSON(w, http.StatusOK, statusResponses(results))
}

// InfoRequest is the body for the metadata extraction endpoints. The point
// page URL is supplied by the caller because points themselves carry no
// external URL, only their connectors do.
type InfoRequest struct {
	URL string `json:"url"`
}

func (s *Service) handlePointInfo(w http.ResponseWriter, r *http.Request) {
	pt, ok := s.loadPoint(w, r)
	if !ok {
		return
	}
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var req InfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}

	res := s.orch.PointInfo(r.Context(), acct.ID, pt, req.URL)
	if res.Err != nil {
		s.logger.Warn("api: point info failed", "point", pt.ID, "error", res.Err)
		http.Error(w, "extraction failed", http.StatusBadGateway)
		return
	}

	info, err := s.st.GetPointInfo(r.Context(), pt.ID)
	if err != nil {
		s.internal(w, "load point info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleRefreshConnector(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadConnector(w, r)
	if !ok {
		return
	}
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	results := s.orch.StatusBatch(r.Context(), acct.ID, []*store.Connector{c})
	writeJSON(w, http.StatusOK, statusResponses(results)[0])
}

func (s *Service) handleConnectorInfo(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadConnector(w, r)
	if !ok {
		return
	}
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	results := s.orch.ConnectorInfoBatch(r.Context(), acct.ID, []*store.Connector{c})
	if results[0].Err != nil {
		s.logger.Warn("api: connector info failed", "connector", c.ID, "error", results[0].Err)
		http.Error(w, "extraction failed", http.StatusBadGateway)
		return
	}

	info, err := s.st.GetConnectorInfo(r.Context(), c.ID)
	if err != nil {
		s.internal(w, "load connector info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadConnector(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.st.StateHistory(r.Context(), c.ID, limit)
	if err != nil {
		s.internal(w, "load history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// ActiveRequest toggles batch participation.
type ActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Service) handleConnectorActive(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadConnector(w, r)
	if !ok {
		return
	}
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.st.SetConnectorActive(r.Context(), c.ID, req.Active); err != nil {
		s.internal(w, "set connector active", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// WatchSetRequest is the body for POST /api/v1/watchsets.
type WatchSetRequest struct {
	Name            string `json:"name"`
	PreferredSocket string `json:"preferred_socket"`
	SwitchWindowMin int    `json:"switch_window_min"`
}

func (s *Service) handleCreateWatchSet(w http.ResponseWriter, r *http.Request) {
	var req WatchSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	set := &store.WatchSet{
		UserID:          userFrom(r.Context()),
		Name:            req.Name,
		PreferredSocket: req.PreferredSocket,
		SwitchWindowMin: req.SwitchWindowMin,
	}
	if err := s.st.InsertWatchSet(r.Context(), set); err != nil {
		s.internal(w, "insert watch set", err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}

func (s *Service) handleListWatchSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.st.ListWatchSets(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.internal(w, "list watch sets", err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

// WatchItemRequest is the body for POST /api/v1/watchsets/{id}/items.
type WatchItemRequest struct {
	ExternalID      string `json:"external_id"`
	Priority        int    `json:"priority"`
	PreferredSocket string `json:"preferred_socket"`
	Notes           string `json:"notes"`
}

func (s *Service) handleAddWatchItem(w http.ResponseWriter, r *http.Request) {
	set, ok := s.loadWatchSet(w, r)
	if !ok {
		return
	}
	var req WatchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExternalID == "" {
		http.Error(w, "external_id required", http.StatusBadRequest)
		return
	}

	item := &store.WatchItem{
		SetID:           set.ID,
		ExternalID:      req.ExternalID,
		Priority:        req.Priority,
		PreferredSocket: req.PreferredSocket,
		Notes:           req.Notes,
	}
	if err := s.st.AddWatchItem(r.Context(), item); err != nil {
		s.internal(w, "add watch item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleWatchSetActive toggles a set and keeps its recurring job in sync:
// activation materializes the job, deactivation parks it.
func (s *Service) handleWatchSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, ok := s.loadWatchSet(w, r)
		if !ok {
			return
		}
		if err := s.st.SetWatchSetActive(r.Context(), set.ID, active); err != nil {
			s.internal(w, "set watch set active", err)
			return
		}

		if active {
			set.Active = true
			if err := scheduler.ScheduleWatchSet(r.Context(), s.queue, set); err != nil {
				s.internal(w, "schedule watch job", err)
				return
			}
		} else {
			if err := scheduler.DisableWatchSet(r.Context(), s.queue, set.ID); err != nil {
				s.internal(w, "disable watch job", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	}
}

// loadPoint resolves {id} scoped to the caller, writing the error response
// itself when the point is missing.
func (s *Service) loadPoint(w http.ResponseWriter, r *http.Request) (*store.Point, bool) {
	pt, err := s.st.GetPoint(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		s.internal(w, "load point", err)
		return nil, false
	}
	if pt == nil {
		http.Error(w, "point not found", http.StatusNotFound)
		return nil, false
	}
	return pt, true
}

// loadConnector resolves {id} and checks the parent point's ownership.
func (s *Service) loadConnector(w http.ResponseWriter, r *http.Request) (*store.Connector, bool) {
	c, err := s.st.GetConnector(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internal(w, "load connector", err)
		return nil, false
	}
	if c == nil {
		http.Error(w, "connector not found", http.StatusNotFound)
		return nil, false
	}
	pt, err := s.st.GetPoint(r.Context(), c.PointID, userFrom(r.Context()))
	if err != nil {
		s.internal(w, "load point", err)
		return nil, false
	}
	if pt == nil {
		http.Error(w, "connector not found", http.StatusNotFound)
		return nil, false
	}
	return c, true
}

func (s *Service) loadWatchSet(w http.ResponseWriter, r *http.Request) (*store.WatchSet, bool) {
	set, err := s.st.GetWatchSet(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		s.internal(w, "load watch set", err)
		return nil, false
	}
	if set == nil {
		http.Error(w, "watch set not found", http.StatusNotFound)
		return nil, false
	}
	return set, true
}

func (s *Service) loadAccount(w http.ResponseWriter, r *http.Request) (*store.Account, bool) {
	acct, err := s.st.AccountForUser(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.internal(w, "load account", err)
		return nil, false
	}
	if acct == nil {
		http.Error(w, "no account registered", http.StatusPreconditionFailed)
		return nil, false
	}
	return acct, true
}

func (s *Service) internal(w http.ResponseWriter, what string, err error) {
	s.logger.Error("api: "+what, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// StatusResponse is the wire form of one batch result.
type StatusResponse struct {
	ConnectorID string `json:"connector_id"`
	Status      string `json:"status,omitempty"`
	Hint        string `json:"hint,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

func statusResponses(results []refresh.StatusResult) []StatusResponse {
	out := make([]StatusResponse, len(results))
	for i, r := range results {
		out[i] = StatusResponse{
			ConnectorID: r.ConnectorID,
			Status:      string(r.Status),
			Hint:        r.Hint,
			DurationMs:  r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}
