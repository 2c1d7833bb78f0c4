package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/diag"
	"github.com/opsgate/opsgate/internal/dispatch"
	"github.com/opsgate/opsgate/internal/httputil"
)

func withPrincipal(ctx context.Context, principal SessionPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func principalFromContext(ctx context.Context) SessionPrincipal {
	principal, _ := ctx.Value(principalKey{}).(SessionPrincipal)
	return principal
}

// handleInvoke is the single inbound dispatch endpoint.
func (s *HTTPServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	// Unknown top-level keys are tolerated: clients may send action-specific
	// fields alongside the envelope. Only "params" reaches the operation.
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondProblem(w, r, http.StatusBadRequest,
			`invalid request envelope: `+err.Error()+`; action-specific parameters belong in the "params" object`)
		return
	}
	req.RequestID = httputil.RequestIDFromContext(r.Context())
	if req.Region == "" {
		req.Region = s.cfg.Region
	}

	// The scope gate needs the classified entry; an unknown operation falls
	// through to the pipeline for its canonical error shape.
	if entry, err := s.registry.Classify(req.Domain, req.Action); err == nil {
		if scopeErr := requireScopes(entry, principalFromContext(r.Context())); scopeErr != nil {
			httputil.RespondProblem(w, r, http.StatusForbidden, scopeErr.Error())
			return
		}
	}

	response := s.pipeline.Dispatch(r.Context(), req)
	status := http.StatusOK
	if response.Error != nil {
		status = response.Error.HTTPStatus()
	}
	httputil.RespondJSON(w, status, response)
}

type capabilityDescriptor struct {
	Domain              string   `json:"domain"`
	Action              string   `json:"action"`
	Description         string   `json:"description,omitempty"`
	Classification      string   `json:"classification"`
	Category            string   `json:"category,omitempty"`
	RequiredPermissions []string `json:"requiredPermissions,omitempty"`
	ProbeMode           string   `json:"probeMode"`
	Destructive         bool     `json:"destructive,omitempty"`
}

func (s *HTTPServer) handleListCapabilities(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.List()
	descriptors := make([]capabilityDescriptor, 0, len(entries))
	for _, entry := range entries {
		descriptor := capabilityDescriptor{
			Domain:              entry.Key.Domain,
			Action:              entry.Key.Action,
			Description:         entry.Description,
			Classification:      "free",
			RequiredPermissions: entry.RequiredPermissions,
			ProbeMode:           string(entry.Probe.Mode()),
			Destructive:         entry.Destructive,
		}
		if entry.Classification.IsPaid() {
			descriptor.Classification = "paid"
			descriptor.Category = string(entry.Classification.Category)
		}
		descriptors = append(descriptors, descriptor)
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"capabilities": descriptors})
}

func (s *HTTPServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		region = s.cfg.Region
	}
	report := s.engine.RunAll(r.Context(), region)
	httputil.RespondJSON(w, http.StatusOK, report)
}

type checkDescriptor struct {
	Domain              string   `json:"domain"`
	Action              string   `json:"action"`
	ProbeMode           string   `json:"probeMode"`
	RequiredPermissions []string `json:"requiredPermissions,omitempty"`
	UnsafeReason        string   `json:"unsafeReason,omitempty"`
}

func (s *HTTPServer) handleListChecks(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.List()
	checks := make([]checkDescriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.Probe.Mode() == capability.ProbeNone {
			continue
		}
		checks = append(checks, checkDescriptor{
			Domain:              entry.Key.Domain,
			Action:              entry.Key.Action,
			ProbeMode:           string(entry.Probe.Mode()),
			RequiredPermissions: entry.RequiredPermissions,
			UnsafeReason:        entry.Probe.Reason(),
		})
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

func (s *HTTPServer) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	key := capability.Key{
		Domain: chi.URLParam(r, "domain"),
		Action: chi.URLParam(r, "action"),
	}
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		region = s.cfg.Region
	}

	result, err := s.engine.RunOne(r.Context(), key, region)
	if err != nil {
		if errors.Is(err, capability.ErrNotFound) {
			httputil.RespondProblem(w, r, http.StatusNotFound, err.Error())
			return
		}
		httputil.RespondProblem(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Selections map[string]bool `json:"selections"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		httputil.RespondProblem(w, r, http.StatusBadRequest, "invalid policy request: "+err.Error())
		return
	}
	document := diag.SynthesizePolicy(s.registry, body.Selections)
	httputil.RespondJSON(w, http.StatusOK, document)
}
