package diag

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
)

type fakeProbeAPI struct {
	identity    capability.Identity
	identityErr error

	listErr map[string]error
	calls   atomic.Int64
}

func (f *fakeProbeAPI) ResolveIdentity(_ context.Context, _ string) (capability.Identity, error) {
	if f.identityErr != nil {
		return capability.Identity{}, f.identityErr
	}
	return f.identity, nil
}

func (f *fakeProbeAPI) list(name string) error {
	f.calls.Add(1)
	if f.listErr == nil {
		return nil
	}
	return f.listErr[name]
}

func (f *fakeProbeAPI) ListInstances(context.Context, string) error { return f.list("instances") }
func (f *fakeProbeAPI) ListBuckets(context.Context, string) error   { return f.list("buckets") }
func (f *fakeProbeAPI) ListFunctions(context.Context, string) error { return f.list("functions") }
func (f *fakeProbeAPI) ListDatabases(context.Context, string) error { return f.list("databases") }
func (f *fakeProbeAPI) ListAlarms(context.Context, string) error    { return f.list("alarms") }
func (f *fakeProbeAPI) ListTopics(context.Context, string) error    { return f.list("topics") }
func (f *fakeProbeAPI) ListUsers(context.Context, string) error     { return f.list("users") }

type deniedSignal struct{ code string }

func (d *deniedSignal) Error() string   { return "denied by provider" }
func (d *deniedSignal) Signal() string  { return d.code }
func (d *deniedSignal) StatusCode() int { return 403 }

func testEngine(t *testing.T, api capability.ProbeAPI) *Engine {
	t.Helper()
	registry, err := capability.NewRegistry()
	require.NoError(t, err)
	return NewEngine(registry, api, EngineOptions{Logger: zerolog.Nop()})
}

func TestRunAll_AllGranted(t *testing.T) {
	api := &fakeProbeAPI{identity: capability.Identity{Account: "123", Principal: "ops"}}
	engine := testEngine(t, api)

	report := engine.RunAll(context.Background(), "primary")
	require.Nil(t, report.IdentityError)
	require.NotNil(t, report.Identity)
	require.Equal(t, "123", report.Identity.Account)
	require.Equal(t, "primary", report.Region)
	require.Zero(t, report.Summary.Denied)
	require.NotZero(t, report.Summary.Granted)
	require.Empty(t, report.Recommendations)
}

func TestRunAll_IdentityFailureShortCircuits(t *testing.T) {
	api := &fakeProbeAPI{identityErr: &deniedSignal{code: "InvalidClientTokenId"}}
	engine := testEngine(t, api)

	report := engine.RunAll(context.Background(), "primary")
	require.NotNil(t, report.IdentityError)
	require.Equal(t, apperr.KindInvalidCredentials, report.IdentityError.Kind)
	require.Nil(t, report.Identity)
	require.Empty(t, report.Checks, "no per-capability checks may run without an identity")
	require.Len(t, report.Recommendations, 1)
	require.Zero(t, api.calls.Load())
}

func TestRunAll_DeniedProbesProduceRecommendations(t *testing.T) {
	api := &fakeProbeAPI{
		identity: capability.Identity{Account: "123"},
		listErr:  map[string]error{"buckets": &deniedSignal{code: "AccessDenied"}},
	}
	engine := testEngine(t, api)

	report := engine.RunAll(context.Background(), "primary")
	require.Equal(t, 1, report.Summary.Denied)

	var denied *CheckResult
	for i := range report.Checks {
		if report.Checks[i].Status == StatusDenied {
			denied = &report.Checks[i]
		}
	}
	require.NotNil(t, denied)
	require.Equal(t, capability.Key{Domain: "storage", Action: "list-buckets"}, denied.Key)
	require.Equal(t, apperr.KindAccessDenied, denied.Error.Kind)

	require.NotEmpty(t, report.Recommendations)
	require.Contains(t, report.Recommendations[0], "storage.list-buckets")
	require.Contains(t, report.Recommendations[len(report.Recommendations)-1], "re-run diagnostics")
}

func TestRunAll_UnsafeCapabilitiesSkippedWithReason(t *testing.T) {
	api := &fakeProbeAPI{identity: capability.Identity{Account: "123"}}
	engine := testEngine(t, api)

	report := engine.RunAll(context.Background(), "primary")

	found := false
	for _, check := range report.Checks {
		if check.Key == (capability.Key{Domain: "compute", Action: "terminate"}) {
			found = true
			require.Equal(t, StatusSkipped, check.Status)
			require.Contains(t, check.Detail, "verify manually")
		}
	}
	require.True(t, found)
	require.NotZero(t, report.Summary.Skipped)
}

func TestRunAll_NeverInvokesUnsafeOperations(t *testing.T) {
	api := &fakeProbeAPI{identity: capability.Identity{Account: "123"}}
	engine := testEngine(t, api)

	registry, err := capability.NewRegistry()
	require.NoError(t, err)
	probeable := int64(len(registry.ListProbeable()))

	// whoami's probe resolves identity and does not count against list
	// calls; everything else maps to exactly one list call.
	_ = engine.RunAll(context.Background(), "primary")
	require.LessOrEqual(t, api.calls.Load(), probeable,
		"a diagnostic run must never call beyond the safe-read probes")
}

func TestRunAll_CancellationStopsScheduling(t *testing.T) {
	api := &fakeProbeAPI{identity: capability.Identity{Account: "123"}}
	engine := testEngine(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := engine.RunAll(ctx, "primary")
	// Identity resolution runs on a detached timeout only for in-flight
	// probes; a pre-canceled context fails identity resolution instead.
	if report.IdentityError == nil {
		for _, check := range report.Checks {
			if check.Status != StatusSkipped {
				t.Fatalf("check %s ran after cancellation", check.Key)
			}
		}
	}
}

func TestRunOne_SafeRead(t *testing.T) {
	api := &fakeProbeAPI{identity: capability.Identity{Account: "123"}}
	engine := testEngine(t, api)

	result, err := engine.RunOne(context.Background(), capability.Key{Domain: "compute", Action: "list"}, "primary")
	require.NoError(t, err)
	require.Equal(t, StatusGranted, result.Status)
}

func TestRunOne_Unsafe(t *testing.T) {
	engine := testEngine(t, &fakeProbeAPI{})

	result, err := engine.RunOne(context.Background(), capability.Key{Domain: "cost", Action: "by-period"}, "primary")
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, result.Status)
	require.Contains(t, result.Detail, "verify manually")
}

func TestRunOne_NoProbe(t *testing.T) {
	engine := testEngine(t, &fakeProbeAPI{})

	result, err := engine.RunOne(context.Background(), capability.Key{Domain: "compute", Action: "get"}, "primary")
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, result.Status)
	require.Contains(t, result.Detail, "no diagnostic probe")
}

func TestRunOne_Unknown(t *testing.T) {
	engine := testEngine(t, &fakeProbeAPI{})

	_, err := engine.RunOne(context.Background(), capability.Key{Domain: "nope", Action: "nothing"}, "primary")
	require.Error(t, err)
	require.True(t, errors.Is(err, capability.ErrNotFound))
}
