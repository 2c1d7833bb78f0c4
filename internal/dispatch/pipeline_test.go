package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/api"
	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/consent"
)

type invocationLog struct {
	mu   sync.Mutex
	keys []capability.Key
}

func (l *invocationLog) record(key capability.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
}

func (l *invocationLog) count(key capability.Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.keys {
		if k == key {
			n++
		}
	}
	return n
}

type staticAvailability struct {
	down map[string]struct{}
}

func (a staticAvailability) Available(domain string) bool {
	_, off := a.down[domain]
	return !off
}

type pipelineFixture struct {
	pipeline *Pipeline
	registry *capability.Registry
	durable  *consent.MemoryDurable
	log      *invocationLog
}

type fixtureOptions struct {
	mode        string
	enableWrite bool
	avail       Availability
	failHandler map[capability.Key]error
}

func newPipelineFixture(t *testing.T, opts fixtureOptions) *pipelineFixture {
	t.Helper()

	registry, err := capability.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, registry.ApplyMetadata(api.CapabilitiesMetadata))

	durable := consent.NewMemoryDurable()
	store := consent.NewTieredStore(durable, consent.StoreOptions{Logger: zerolog.Nop()})
	gateway := consent.NewGateway(registry, store)

	invocations := &invocationLog{}
	table := make(Table, len(registry.List()))
	for _, entry := range registry.List() {
		key := entry.Key
		table[key] = HandlerFunc(func(_ context.Context, req Request) (any, error) {
			invocations.record(key)
			if opts.failHandler != nil {
				if failErr, ok := opts.failHandler[key]; ok {
					return nil, failErr
				}
			}
			return map[string]any{"operation": key.String()}, nil
		})
	}

	mode := opts.mode
	if mode == "" {
		mode = ModeReadOnly
	}
	guard, err := NewGuard(mode, opts.enableWrite)
	require.NoError(t, err)

	pipeline, err := NewPipeline(PipelineOptions{
		Registry:     registry,
		Gateway:      gateway,
		Table:        table,
		Guard:        guard,
		Availability: opts.avail,
		Audit:        audit.NewLogger(zerolog.Nop()),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	return &pipelineFixture{
		pipeline: pipeline,
		registry: registry,
		durable:  durable,
		log:      invocations,
	}
}

func TestDispatch_FreeOperation(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})

	resp := fx.pipeline.Dispatch(context.Background(), Request{Domain: "compute", Action: "list"})
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
	require.Empty(t, resp.CostWarning)
	require.False(t, resp.RequiresConsent)
	require.Equal(t, 1, fx.log.count(capability.Key{Domain: "compute", Action: "list"}))
}

func TestDispatch_UnknownOperationRegardlessOfConsent(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})

	for _, consentFlag := range []bool{false, true} {
		resp := fx.pipeline.Dispatch(context.Background(), Request{
			Domain:  "compute",
			Action:  "levitate",
			UserID:  "alice",
			Consent: consentFlag,
		})
		require.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		require.Equal(t, apperr.KindUnknownOperation, resp.Error.Kind)
		require.Contains(t, resp.Error.Remediation, "/api/v1/capabilities")
	}
	require.Empty(t, fx.log.keys)
}

func TestDispatch_ConsentFlow(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	ctx := context.Background()
	key := capability.Key{Domain: "cost", Action: "by-period"}

	// Anonymous callers can never reach a paid capability.
	resp := fx.pipeline.Dispatch(ctx, Request{Domain: "cost", Action: "by-period"})
	require.False(t, resp.Success)
	require.True(t, resp.RequiresConsent)
	require.Nil(t, resp.Error)
	require.Equal(t, consent.HowToIdentify, resp.HowToConsent)
	require.Zero(t, fx.log.count(key))

	// An identified caller without a grant gets a consent descriptor.
	resp = fx.pipeline.Dispatch(ctx, Request{Domain: "cost", Action: "by-period", UserID: "alice"})
	require.True(t, resp.RequiresConsent)
	require.Equal(t, "alice", resp.UserID)
	require.NotNil(t, resp.Category)
	require.Equal(t, "cost-reporting", resp.Category.ID)
	require.NotEmpty(t, resp.Category.CostDescriptor)
	require.Equal(t, consent.HowToConsent, resp.HowToConsent)
	require.Zero(t, fx.log.count(key))

	// Resending with consent=true records the grant and executes.
	resp = fx.pipeline.Dispatch(ctx, Request{Domain: "cost", Action: "by-period", UserID: "alice", Consent: true})
	require.True(t, resp.Success)
	require.False(t, resp.RequiresConsent)
	require.NotEmpty(t, resp.CostWarning)
	require.Equal(t, 1, fx.log.count(key))

	// Subsequent calls ride on the recorded grant.
	resp = fx.pipeline.Dispatch(ctx, Request{Domain: "cost", Action: "by-period", UserID: "alice"})
	require.True(t, resp.Success)
	require.Equal(t, 2, fx.log.count(key))

	// The grant covers the whole category.
	resp = fx.pipeline.Dispatch(ctx, Request{Domain: "cost", Action: "by-service", UserID: "alice"})
	require.True(t, resp.Success)
}

func TestDispatch_PaidSuccessCarriesCostWarning(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})

	resp := fx.pipeline.Dispatch(context.Background(), Request{
		Domain: "assistant", Action: "ask", UserID: "alice", Consent: true,
	})
	require.True(t, resp.Success)
	require.Contains(t, resp.CostWarning, "token")
}

func TestDispatch_DegradedConsentPropagates(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{})
	fx.durable.SetFailing(true)

	resp := fx.pipeline.Dispatch(context.Background(), Request{
		Domain: "cost", Action: "by-period", UserID: "alice", Consent: true,
	})
	require.True(t, resp.Success)
	require.True(t, resp.Degraded)
	require.Equal(t, consent.DegradedWarning, resp.Warning)
}

func TestDispatch_DestructiveDeniedInReadOnlyMode(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{mode: ModeReadOnly})

	resp := fx.pipeline.Dispatch(context.Background(), Request{
		Domain: "compute", Action: "terminate", Confirm: true,
		Params: map[string]any{"id": "i-123"},
	})
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, apperr.KindAccessDenied, resp.Error.Kind)
	require.Contains(t, resp.Error.Remediation, "OPSGATE_ENABLE_WRITE")
	require.Empty(t, fx.log.keys)
}

func TestDispatch_DestructiveRequiresConfirm(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{mode: ModeReadWrite, enableWrite: true})
	key := capability.Key{Domain: "compute", Action: "terminate"}

	resp := fx.pipeline.Dispatch(context.Background(), Request{Domain: "compute", Action: "terminate"})
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, apperr.KindInvalidRequest, resp.Error.Kind)
	require.Contains(t, resp.Error.Remediation, "confirm=true")
	require.Zero(t, fx.log.count(key))

	resp = fx.pipeline.Dispatch(context.Background(), Request{Domain: "compute", Action: "terminate", Confirm: true})
	require.True(t, resp.Success)
	require.Equal(t, 1, fx.log.count(key))
}

func TestDispatch_UnavailableComponent(t *testing.T) {
	fx := newPipelineFixture(t, fixtureOptions{
		avail: staticAvailability{down: map[string]struct{}{"storage": {}}},
	})

	resp := fx.pipeline.Dispatch(context.Background(), Request{Domain: "storage", Action: "list-buckets"})
	require.False(t, resp.Success)
	require.Equal(t, apperr.KindUnavailable, resp.Error.Kind)
	require.Empty(t, fx.log.keys)

	// Other domains are unaffected.
	resp = fx.pipeline.Dispatch(context.Background(), Request{Domain: "compute", Action: "list"})
	require.True(t, resp.Success)
}

func TestDispatch_HandlerErrorsAreNormalized(t *testing.T) {
	providerErr := &apperr.Error{Kind: apperr.KindThrottled, Message: "slow down"}
	fx := newPipelineFixture(t, fixtureOptions{
		failHandler: map[capability.Key]error{
			{Domain: "compute", Action: "list"}: providerErr,
		},
	})

	resp := fx.pipeline.Dispatch(context.Background(), Request{Domain: "compute", Action: "list"})
	require.False(t, resp.Success)
	require.Equal(t, apperr.KindThrottled, resp.Error.Kind)
	require.Equal(t, "slow down", resp.Error.Message)
}

func TestNewPipeline_RejectsIncompleteTable(t *testing.T) {
	registry, err := capability.NewRegistry()
	require.NoError(t, err)

	table := Table{}
	guard, err := NewGuard(ModeReadOnly, false)
	require.NoError(t, err)

	store := consent.NewTieredStore(consent.NewMemoryDurable(), consent.StoreOptions{Logger: zerolog.Nop()})
	_, err = NewPipeline(PipelineOptions{
		Registry: registry,
		Gateway:  consent.NewGateway(registry, store),
		Table:    table,
		Guard:    guard,
		Logger:   zerolog.Nop(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no dispatch handler")
}

func TestValidateTable_RejectsUnclassifiedHandlers(t *testing.T) {
	registry, err := capability.NewRegistry()
	require.NoError(t, err)

	table := make(Table)
	for _, entry := range registry.List() {
		table[entry.Key] = HandlerFunc(func(context.Context, Request) (any, error) { return nil, nil })
	}
	table[capability.Key{Domain: "teleport", Action: "beam"}] = HandlerFunc(
		func(context.Context, Request) (any, error) { return nil, nil },
	)

	err = ValidateTable(registry, table)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no registry entry")
	require.Contains(t, err.Error(), "teleport.beam")
}

func TestMerge_CombinesTables(t *testing.T) {
	a := Table{{Domain: "x", Action: "one"}: HandlerFunc(func(context.Context, Request) (any, error) { return nil, nil })}
	b := Table{{Domain: "x", Action: "two"}: HandlerFunc(func(context.Context, Request) (any, error) { return nil, nil })}

	merged := Merge(a, b)
	require.Len(t, merged, 2)
}
