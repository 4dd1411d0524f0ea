package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/makr-code/themis-policy/pkg/domain"
	"github.com/makr-code/themis-policy/pkg/ranger"
	"github.com/makr-code/themis-policy/pkg/telemetry"
)

// Governance response headers. Values follow the wire contract of the
// original service: "allowed"/"disabled" for capabilities, "required"/"off"
// for content encryption.
const (
	headerPolicy        = "X-Themis-Policy"
	headerANN           = "X-Themis-ANN"
	headerContentEnc    = "X-Themis-Content-Enc"
	headerExport        = "X-Themis-Export"
	headerCache         = "X-Themis-Cache"
	headerRetentionDays = "X-Themis-Retention-Days"
	headerRedaction     = "X-Themis-Redaction"
	headerPolicyWarn    = "X-Themis-Policy-Warn"
)

type policyListPayload struct {
	Policies []domain.Policy `json:"policies"`
}

type authorizeRequest struct {
	Identity string `json:"identity"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	ClientIP string `json:"client_ip,omitempty"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type countResponse struct {
	Count int `json:"count"`
}

type syncResponse struct {
	Policies int `json:"policies"`
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPolicies(w)
	case http.MethodPut:
		s.handleReplacePolicies(w, r)
	case http.MethodPost:
		s.handleAppendPolicy(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListPolicies(w http.ResponseWriter) {
	policies := s.store.ListPolicies()
	if policies == nil {
		policies = []domain.Policy{}
	}
	s.writeJSON(w, http.StatusOK, policyListPayload{Policies: policies})
}

func (s *Server) handleReplacePolicies(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	policies, err := decodePolicyList(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid policy document: %v", err))
		return
	}

	for i := range policies {
		policies[i].Normalize()
	}
	s.store.SetPolicies(policies)

	s.logger.Info("Policy list replaced", "count", len(policies))
	s.writeJSON(w, http.StatusOK, countResponse{Count: len(policies)})
}

func (s *Server) handleAppendPolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid policy: %v", err))
		return
	}
	if strings.TrimSpace(p.ID) == "" {
		s.writeError(w, http.StatusBadRequest, "policy id is required")
		return
	}

	p.Normalize()
	s.store.AddPolicy(p)

	s.logger.Info("Policy added", "policy_id", p.ID)
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePolicyByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/policies/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.store.RemovePolicy(id) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("policy %q not found", id))
		return
	}

	s.logger.Info("Policy removed", "policy_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePathRequest(w, r)
	if !ok {
		return
	}

	if err := s.store.LoadFromFile(path); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("load failed: %v", err))
		return
	}

	count := s.store.Count()
	s.logger.Info("Policies loaded from file", "path", path, "count", count)
	s.writeJSON(w, http.StatusOK, countResponse{Count: count})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePathRequest(w, r)
	if !ok {
		return
	}

	if err := s.store.SaveToFile(path); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("save failed: %v", err))
		return
	}

	count := s.store.Count()
	s.logger.Info("Policies saved to file", "path", path, "count", count)
	s.writeJSON(w, http.StatusOK, countResponse{Count: count})
}

// decodePathRequest reads the {path} body shared by load and save. It writes
// the error response itself and reports success through the bool.
func (s *Server) decodePathRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}

	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return "", false
	}
	if strings.TrimSpace(req.Path) == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return "", false
	}
	return req.Path, true
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	service := r.URL.Query().Get("service")
	if service == "" {
		s.writeError(w, http.StatusBadRequest, "service query parameter is required")
		return
	}

	doc := ranger.ToRanger(s.store.ListPolicies(), service)
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	ctx := r.Context()
	decision := s.store.Authorize(req.Identity, req.Action, req.Resource, req.ClientIP)

	telemetry.RecordAuthzDecision(ctx, decision.Allowed)
	telemetry.RecordPolicyDecision(trace.SpanFromContext(ctx), decision)

	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	route := r.URL.Query().Get("route")
	decision := s.gov.Evaluate(ctx, r.Header, route)

	telemetry.RecordGovernanceSpan(trace.SpanFromContext(ctx), decision,
		attribute.String("http.route", route),
	)

	setGovernanceHeaders(w.Header(), decision)
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.syncer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no policy authority configured")
		return
	}

	count, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.logger.Error("Triggered sync failed", "error", err)
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("sync failed: %v", err))
		return
	}

	s.logger.Info("Triggered sync completed", "policies", count)
	s.writeJSON(w, http.StatusOK, syncResponse{Policies: count})
}

// setGovernanceHeaders translates a decision into the response header
// contract consumed by enforcement layers.
func setGovernanceHeaders(h http.Header, d domain.PolicyDecision) {
	h.Set(headerPolicy, fmt.Sprintf("%s;mode=%s", d.Classification, d.Mode))
	h.Set(headerANN, capabilityValue(d.AnnAllowed))
	h.Set(headerExport, capabilityValue(d.ExportAllowed))
	h.Set(headerCache, capabilityValue(d.CacheAllowed))
	h.Set(headerRetentionDays, strconv.Itoa(d.RetentionDays))
	h.Set(headerRedaction, string(d.Redaction))

	if d.RequireContentEncryption {
		h.Set(headerContentEnc, "required")
	} else {
		h.Set(headerContentEnc, "off")
	}

	// In observe mode the transport layer reports instead of blocking; the
	// warn header names the obligations that enforcement would act on.
	if d.Mode == domain.ModeObserve {
		if warn := enforcementWarnings(d); warn != "" {
			h.Set(headerPolicyWarn, warn)
		}
	}
}

func capabilityValue(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "disabled"
}

func enforcementWarnings(d domain.PolicyDecision) string {
	var parts []string
	if !d.AnnAllowed {
		parts = append(parts, "ann")
	}
	if !d.ExportAllowed {
		parts = append(parts, "export")
	}
	if !d.CacheAllowed {
		parts = append(parts, "cache")
	}
	if d.RequireContentEncryption {
		parts = append(parts, "content-enc")
	}
	return strings.Join(parts, ",")
}

// decodePolicyList accepts the same two document shapes as the file codec: a
// bare JSON array or an object wrapping a policies list. Unlike the codec it
// is strict; an admin writing through the API gets an error, not a skip.
func decodePolicyList(body []byte) ([]domain.Policy, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var list []domain.Policy
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var wrapped policyListPayload
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Policies, nil
}
