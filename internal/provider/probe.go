package provider

import (
	"context"
	"net/url"

	"github.com/opsgate/opsgate/internal/capability"
)

// probeQuery bounds every diagnostic read to a single item so a probe can
// never become an expensive scan.
func probeQuery(region string) url.Values {
	query := url.Values{}
	query.Set("limit", "1")
	if region != "" {
		query.Set("region", region)
	}
	return query
}

// ResolveIdentity resolves the principal behind the configured credentials.
func (c *Client) ResolveIdentity(ctx context.Context, region string) (capability.Identity, error) {
	var response struct {
		Account   string `json:"account"`
		Principal string `json:"principal"`
		Display   string `json:"display"`
	}
	query := url.Values{}
	if region != "" {
		query.Set("region", region)
	}
	if err := c.Get(ctx, "/identity/v1/whoami", query, &response); err != nil {
		return capability.Identity{}, err
	}
	return capability.Identity{
		Account:   response.Account,
		Principal: response.Principal,
		Display:   response.Display,
	}, nil
}

// ListInstances is the compute safe-read probe.
func (c *Client) ListInstances(ctx context.Context, region string) error {
	return c.Get(ctx, "/compute/v1/instances", probeQuery(region), nil)
}

// ListBuckets is the storage safe-read probe.
func (c *Client) ListBuckets(ctx context.Context, region string) error {
	return c.Get(ctx, "/storage/v1/buckets", probeQuery(region), nil)
}

// ListFunctions is the functions safe-read probe.
func (c *Client) ListFunctions(ctx context.Context, region string) error {
	return c.Get(ctx, "/functions/v1/functions", probeQuery(region), nil)
}

// ListDatabases is the database safe-read probe.
func (c *Client) ListDatabases(ctx context.Context, region string) error {
	return c.Get(ctx, "/database/v1/instances", probeQuery(region), nil)
}

// ListAlarms is the monitoring safe-read probe.
func (c *Client) ListAlarms(ctx context.Context, region string) error {
	return c.Get(ctx, "/monitoring/v1/alarms", probeQuery(region), nil)
}

// ListTopics is the notify safe-read probe.
func (c *Client) ListTopics(ctx context.Context, region string) error {
	return c.Get(ctx, "/notify/v1/topics", probeQuery(region), nil)
}

// ListUsers is the identity safe-read probe.
func (c *Client) ListUsers(ctx context.Context, region string) error {
	return c.Get(ctx, "/identity/v1/users", probeQuery(region), nil)
}
