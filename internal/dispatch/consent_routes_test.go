package dispatch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/api"
	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/consent"
)

func newConsentTable(t *testing.T) Table {
	t.Helper()
	registry, err := capability.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, registry.ApplyMetadata(api.CapabilitiesMetadata))

	store := consent.NewTieredStore(consent.NewMemoryDurable(), consent.StoreOptions{Logger: zerolog.Nop()})
	service := consent.NewService(registry, store, nil, zerolog.Nop())
	return ConsentRoutes(service)
}

func TestConsentRoutes_CoversSubProtocol(t *testing.T) {
	table := newConsentTable(t)
	for _, action := range []string{"grant", "revoke", "revoke-all", "status", "list"} {
		require.Contains(t, table, capability.Key{Domain: "consent", Action: action})
	}
}

func TestConsentRoutes_GrantThenStatus(t *testing.T) {
	table := newConsentTable(t)
	ctx := context.Background()

	grant := table[capability.Key{Domain: "consent", Action: "grant"}]
	result, err := grant.Invoke(ctx, Request{
		UserID: "alice",
		Params: map[string]any{"categoryId": "cost-reporting"},
	})
	require.NoError(t, err)
	granted := result.(map[string]any)
	require.Equal(t, true, granted["granted"])

	status := table[capability.Key{Domain: "consent", Action: "status"}]
	result, err = status.Invoke(ctx, Request{UserID: "alice"})
	require.NoError(t, err)
	categories := result.(map[string]any)["categories"].([]consent.StatusEntry)
	require.Len(t, categories, len(capability.CategoryIDs()))
}

func TestConsentRoutes_GrantRejectsBadInput(t *testing.T) {
	table := newConsentTable(t)
	grant := table[capability.Key{Domain: "consent", Action: "grant"}]

	_, err := grant.Invoke(context.Background(), Request{
		Params: map[string]any{"categoryId": "cost-reporting"},
	})
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalidRequest, apperr.Normalize(err).Kind)

	_, err = grant.Invoke(context.Background(), Request{UserID: "alice"})
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalidRequest, apperr.Normalize(err).Kind)
}

func TestConsentRoutes_RevokeAll(t *testing.T) {
	table := newConsentTable(t)
	ctx := context.Background()

	grant := table[capability.Key{Domain: "consent", Action: "grant"}]
	_, err := grant.Invoke(ctx, Request{UserID: "alice", Params: map[string]any{"categoryId": "ai-assistant"}})
	require.NoError(t, err)

	revokeAll := table[capability.Key{Domain: "consent", Action: "revoke-all"}]
	result, err := revokeAll.Invoke(ctx, Request{UserID: "alice"})
	require.NoError(t, err)
	entries := result.(map[string]any)["categories"].([]consent.StatusEntry)
	for _, entry := range entries {
		require.False(t, entry.Granted)
	}
}
