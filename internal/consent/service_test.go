package consent

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/api"
	"github.com/opsgate/opsgate/internal/capability"
)

type capturingPublisher struct {
	records []Record
}

func (p *capturingPublisher) ConsentChanged(_ context.Context, record Record) {
	p.records = append(p.records, record)
}

func newTestService(t *testing.T, publisher Publisher) *Service {
	t.Helper()
	registry := testRegistry(t)
	require.NoError(t, registry.ApplyMetadata(api.CapabilitiesMetadata))
	return NewService(registry, newTestStore(NewMemoryDurable()), publisher, zerolog.Nop())
}

func TestService_GrantAndStatus(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	entry, ack, err := service.Grant(ctx, "alice", "cost-reporting")
	require.NoError(t, err)
	require.False(t, ack.Degraded)
	require.True(t, entry.Granted)
	require.Equal(t, "cost-reporting", entry.Category.ID)

	statuses, err := service.Status(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, statuses, len(capability.CategoryIDs()))

	granted := 0
	for _, status := range statuses {
		if status.Granted {
			granted++
			require.Equal(t, "cost-reporting", status.Category.ID)
		}
	}
	require.Equal(t, 1, granted)
}

func TestService_GrantRejectsMissingUser(t *testing.T) {
	service := newTestService(t, nil)

	_, _, err := service.Grant(context.Background(), "  ", "cost-reporting")
	require.Error(t, err)
	require.Contains(t, err.Error(), "userId")
}

func TestService_GrantRejectsUnknownCategory(t *testing.T) {
	service := newTestService(t, nil)

	_, _, err := service.Grant(context.Background(), "alice", "time-travel")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown consent category")
}

func TestService_RevokeAll(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	_, _, err := service.Grant(ctx, "alice", "cost-reporting")
	require.NoError(t, err)
	_, _, err = service.Grant(ctx, "alice", "ai-assistant")
	require.NoError(t, err)

	entries, ack, err := service.RevokeAll(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ack.Degraded)
	require.Len(t, entries, len(capability.CategoryIDs()))
	for _, entry := range entries {
		require.False(t, entry.Granted)
	}
}

func TestService_PublishesConsentChanges(t *testing.T) {
	publisher := &capturingPublisher{}
	service := newTestService(t, publisher)
	ctx := context.Background()

	_, _, err := service.Grant(ctx, "alice", "cost-reporting")
	require.NoError(t, err)
	_, _, err = service.Revoke(ctx, "alice", "cost-reporting")
	require.NoError(t, err)

	require.Len(t, publisher.records, 2)
	require.True(t, publisher.records[0].Granted)
	require.False(t, publisher.records[1].Granted)
	require.Equal(t, capability.CategoryCostReporting, publisher.records[0].Category)
}

func TestService_ListEnumeratesCategoriesAndMembers(t *testing.T) {
	service := newTestService(t, nil)

	listings := service.List()
	require.Len(t, listings, len(capability.CategoryIDs()))

	byID := make(map[string]CategoryListing)
	for _, listing := range listings {
		byID[listing.Category.ID] = listing
	}
	require.ElementsMatch(t, []string{"cost.by-period", "cost.by-service"}, byID["cost-reporting"].Members)
	require.Equal(t, []string{"assistant.ask"}, byID["ai-assistant"].Members)
	for _, listing := range listings {
		require.NotEmpty(t, listing.Category.CostDescriptor)
	}
}
