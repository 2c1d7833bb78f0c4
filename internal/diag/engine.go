// Package diag probes the configured provider credentials against the
// capability registry and synthesizes least-privilege permission policies.
package diag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
)

const (
	defaultProbeTimeout = 10 * time.Second
	defaultConcurrency  = 4
)

// CheckStatus classifies one probe outcome.
type CheckStatus string

const (
	// StatusGranted means the safe-read probe succeeded.
	StatusGranted CheckStatus = "granted"
	// StatusDenied means the probe failed; the error is attached.
	StatusDenied CheckStatus = "denied"
	// StatusSkipped means the capability has no executable probe.
	StatusSkipped CheckStatus = "skipped"
)

// CheckResult is one per-capability probe outcome.
type CheckResult struct {
	Key                 capability.Key `json:"key"`
	Status              CheckStatus    `json:"status"`
	RequiredPermissions []string       `json:"requiredPermissions,omitempty"`
	Detail              string         `json:"detail,omitempty"`
	Error               *apperr.Error  `json:"error,omitempty"`
}

// Summary aggregates check counts.
type Summary struct {
	Granted int `json:"granted"`
	Denied  int `json:"denied"`
	Skipped int `json:"skipped"`
}

// Report is the full diagnostic outcome. It is recomputed on every request,
// never persisted.
type Report struct {
	Region          string               `json:"region"`
	Identity        *capability.Identity `json:"identity,omitempty"`
	IdentityError   *apperr.Error        `json:"identityError,omitempty"`
	Checks          []CheckResult        `json:"checks,omitempty"`
	Summary         Summary              `json:"summary"`
	Recommendations []string             `json:"recommendations,omitempty"`
	GeneratedAt     time.Time            `json:"generatedAt"`
}

// EngineOptions tune probe execution.
type EngineOptions struct {
	// ProbeTimeout bounds each individual probe call.
	ProbeTimeout time.Duration
	// Concurrency bounds the probe fan-out.
	Concurrency int
	Logger      zerolog.Logger
	Clock       func() time.Time
}

// Engine runs registry-driven permission diagnostics. Unsafe entries are
// structurally unexecutable, so a run can never trigger a paid or mutating
// call.
type Engine struct {
	registry *capability.Registry
	api      capability.ProbeAPI
	opts     EngineOptions
}

// NewEngine creates a probe engine.
func NewEngine(registry *capability.Registry, api capability.ProbeAPI, opts EngineOptions) *Engine {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{registry: registry, api: api, opts: opts}
}

// RunAll probes every safe-read capability and reports unsafe ones as
// skipped. Identity resolution runs first and unconditionally: without a
// resolvable identity every other check is meaningless, so the report
// short-circuits with a single critical recommendation.
func (e *Engine) RunAll(ctx context.Context, region string) Report {
	report := Report{
		Region:      region,
		GeneratedAt: e.opts.Clock().UTC(),
	}

	identity, err := e.resolveIdentity(ctx, region)
	if err != nil {
		report.IdentityError = apperr.Normalize(err)
		report.Recommendations = []string{
			"credentials are invalid or unusable; fix the configured provider credentials before anything else",
		}
		e.opts.Logger.Warn().Err(err).Msg("identity resolution failed; diagnostic run aborted")
		return report
	}
	report.Identity = &identity

	probeable := e.registry.ListProbeable()
	results := make([]CheckResult, len(probeable))

	group := &errgroup.Group{}
	group.SetLimit(e.opts.Concurrency)
	for i, entry := range probeable {
		// Cancellation stops scheduling new probes; probes already started
		// run to completion on a detached context and are discarded by the
		// caller along with the whole report.
		if ctx.Err() != nil {
			results[i] = CheckResult{
				Key:                 entry.Key,
				Status:              StatusSkipped,
				RequiredPermissions: entry.RequiredPermissions,
				Detail:              "diagnostic run canceled before this check was scheduled",
			}
			continue
		}
		i, entry := i, entry
		group.Go(func() error {
			results[i] = e.execute(ctx, entry, region)
			return nil
		})
	}
	_ = group.Wait()

	report.Checks = append(results, e.skippedUnsafe()...)
	sortChecks(report.Checks)
	report.Summary = summarize(report.Checks)
	report.Recommendations = recommendations(report.Checks)
	return report
}

// RunOne probes a single named capability, for targeted troubleshooting.
func (e *Engine) RunOne(ctx context.Context, key capability.Key, region string) (CheckResult, error) {
	entry, ok := e.registry.Lookup(key)
	if !ok {
		return CheckResult{}, fmt.Errorf("check %s: %w", key, capability.ErrNotFound)
	}

	switch entry.Probe.Mode() {
	case capability.ProbeSafeRead:
		return e.execute(ctx, entry, region), nil
	case capability.ProbeUnsafe:
		return CheckResult{
			Key:                 entry.Key,
			Status:              StatusSkipped,
			RequiredPermissions: entry.RequiredPermissions,
			Detail:              "verify manually: " + entry.Probe.Reason(),
		}, nil
	default:
		return CheckResult{
			Key:                 entry.Key,
			Status:              StatusSkipped,
			RequiredPermissions: entry.RequiredPermissions,
			Detail:              "no diagnostic probe is defined for this capability",
		}, nil
	}
}

func (e *Engine) resolveIdentity(ctx context.Context, region string) (capability.Identity, error) {
	identityCtx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()
	return e.api.ResolveIdentity(identityCtx, region)
}

func (e *Engine) execute(ctx context.Context, entry capability.Entry, region string) CheckResult {
	// Detached from caller cancellation so an in-flight probe is never cut
	// off mid-request; the timeout alone bounds it.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ProbeTimeout)
	defer cancel()

	result := CheckResult{
		Key:                 entry.Key,
		RequiredPermissions: entry.RequiredPermissions,
	}
	if err := entry.Probe.Run(probeCtx, e.api, region); err != nil {
		result.Status = StatusDenied
		result.Error = apperr.Normalize(err)
		e.opts.Logger.Debug().Err(err).Str("check", entry.Key.String()).Msg("probe denied")
		return result
	}
	result.Status = StatusGranted
	return result
}

func (e *Engine) skippedUnsafe() []CheckResult {
	var results []CheckResult
	for _, entry := range e.registry.ListUnsafe() {
		results = append(results, CheckResult{
			Key:                 entry.Key,
			Status:              StatusSkipped,
			RequiredPermissions: entry.RequiredPermissions,
			Detail:              "verify manually: " + entry.Probe.Reason(),
		})
	}
	return results
}

func sortChecks(checks []CheckResult) {
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Key.Domain != checks[j].Key.Domain {
			return checks[i].Key.Domain < checks[j].Key.Domain
		}
		return checks[i].Key.Action < checks[j].Key.Action
	})
}

func summarize(checks []CheckResult) Summary {
	var summary Summary
	for _, check := range checks {
		switch check.Status {
		case StatusGranted:
			summary.Granted++
		case StatusDenied:
			summary.Denied++
		case StatusSkipped:
			summary.Skipped++
		}
	}
	return summary
}

func recommendations(checks []CheckResult) []string {
	var recs []string
	for _, check := range checks {
		if check.Status != StatusDenied {
			continue
		}
		recs = append(recs, fmt.Sprintf(
			"grant %v to enable %s",
			check.RequiredPermissions,
			check.Key,
		))
	}
	if len(recs) > 0 {
		recs = append(recs, "re-run diagnostics after updating the provider permission policy")
	}
	return recs
}
