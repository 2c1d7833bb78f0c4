package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/consent"
)

// Availability reports whether a domain's backing component came up at
// startup. A nil Availability treats everything as available.
type Availability interface {
	Available(domain string) bool
}

// Pipeline is the top-level orchestrator: classify, gate, invoke, decorate,
// normalize.
type Pipeline struct {
	registry *capability.Registry
	gateway  *consent.Gateway
	table    Table
	guard    *Guard
	avail    Availability
	audit    *audit.Logger
	logger   zerolog.Logger
	clock    func() time.Time
}

// PipelineOptions wire the pipeline's collaborators.
type PipelineOptions struct {
	Registry     *capability.Registry
	Gateway      *consent.Gateway
	Table        Table
	Guard        *Guard
	Availability Availability
	Audit        *audit.Logger
	Logger       zerolog.Logger
	Clock        func() time.Time
}

// NewPipeline validates the routing table against the registry and returns
// the pipeline. A table/registry mismatch is a configuration error and fails
// startup.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("pipeline requires a capability registry")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("pipeline requires a consent gateway")
	}
	if err := ValidateTable(opts.Registry, opts.Table); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		registry: opts.Registry,
		gateway:  opts.Gateway,
		table:    opts.Table,
		guard:    opts.Guard,
		avail:    opts.Availability,
		audit:    opts.Audit,
		logger:   opts.Logger.With().Str("component", "dispatch").Logger(),
		clock:    opts.Clock,
	}, nil
}

// ValidateTable cross-checks handlers against the registry in both
// directions: every handler must be classified, and every registry entry
// must be dispatchable.
func ValidateTable(registry *capability.Registry, table Table) error {
	var missing []string
	for _, entry := range registry.List() {
		if _, ok := table[entry.Key]; !ok {
			missing = append(missing, entry.Key.String())
		}
	}
	var unclassified []string
	for key := range table {
		if _, ok := registry.Lookup(key); !ok {
			unclassified = append(unclassified, key.String())
		}
	}
	sort.Strings(missing)
	sort.Strings(unclassified)

	if len(missing) > 0 {
		return fmt.Errorf("registry entries with no dispatch handler: %v", missing)
	}
	if len(unclassified) > 0 {
		return fmt.Errorf("dispatch handlers with no registry entry: %v", unclassified)
	}
	return nil
}

// Dispatch runs one inbound request through the full pipeline.
func (p *Pipeline) Dispatch(ctx context.Context, req Request) Response {
	started := p.clock()
	event := audit.Completion{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		Domain:    req.Domain,
		Action:    req.Action,
		Decision:  audit.DecisionError,
	}
	defer func() {
		event.Duration = p.clock().Sub(started)
		p.audit.Complete(event)
	}()

	entry, err := p.registry.Classify(req.Domain, req.Action)
	if err != nil {
		if errors.Is(err, capability.ErrNotFound) {
			return p.fail(&event, apperr.New(apperr.KindUnknownOperation, err.Error()).
				WithRemediation("list supported operations with GET /api/v1/capabilities"))
		}
		return p.fail(&event, apperr.Normalize(err))
	}

	if p.avail != nil && !p.avail.Available(entry.Key.Domain) {
		return p.fail(&event, apperr.Newf(
			apperr.KindUnavailable,
			"component %q was unavailable at startup",
			entry.Key.Domain,
		).WithRemediation("check the provider endpoint configuration and restart the gateway"))
	}

	handler, ok := p.table[entry.Key]
	if !ok {
		// Unreachable after ValidateTable; kept as a hard stop.
		return p.fail(&event, apperr.Newf(apperr.KindUnknownOperation, "no handler for operation %s", entry.Key))
	}

	if guardErr := p.guard.Authorize(entry); guardErr != nil {
		event.Decision = audit.DecisionDenied
		event.ErrorKind = string(guardErr.Kind)
		event.ErrorDetail = guardErr.Message
		return Response{Error: guardErr}
	}
	if confirmErr := RequireConfirmation(entry, req.Confirm); confirmErr != nil {
		event.Decision = audit.DecisionDenied
		event.ErrorKind = string(confirmErr.Kind)
		event.ErrorDetail = confirmErr.Message
		return Response{Error: confirmErr}
	}

	decision := p.gateway.Decide(ctx, entry, req.UserID, req.Consent)
	if decision.Required != nil {
		event.Decision = audit.DecisionConsentRequired
		return Response{
			RequiresConsent: true,
			UserID:          decision.Required.UserID,
			Category:        &decision.Required.Category,
			HowToConsent:    decision.Required.HowToConsent,
		}
	}

	data, invokeErr := handler.Invoke(ctx, req)
	if invokeErr != nil {
		normalized := apperr.Normalize(invokeErr)
		event.ErrorKind = string(normalized.Kind)
		event.ErrorDetail = normalized.Message
		p.logger.Warn().
			Str("operation", entry.Key.String()).
			Str("error_kind", string(normalized.Kind)).
			Msg("handler invocation failed")
		return Response{Error: normalized, Degraded: decision.Degraded, Warning: decision.Warning}
	}

	event.Decision = audit.DecisionAllowed
	event.Degraded = decision.Degraded
	response := Response{
		Success:  true,
		Data:     data,
		Degraded: decision.Degraded,
		Warning:  decision.Warning,
	}
	if entry.Classification.IsPaid() {
		if category, ok := p.registry.Category(entry.Classification.Category); ok {
			response.CostWarning = category.CostDescriptor
		}
	}
	return response
}

func (p *Pipeline) fail(event *audit.Completion, appErr *apperr.Error) Response {
	event.Decision = audit.DecisionError
	event.ErrorKind = string(appErr.Kind)
	event.ErrorDetail = appErr.Message
	return Response{Error: appErr}
}
