package provider

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const availabilityTimeout = 5 * time.Second

// Availability is the startup-time component availability snapshot. Domains
// the health endpoint did not mention read as available, so a degraded or
// silent health surface never bricks the gateway.
type Availability struct {
	disabled map[string]struct{}
}

// Available reports whether a domain's backing component came up.
func (a *Availability) Available(domain string) bool {
	if a == nil || a.disabled == nil {
		return true
	}
	_, off := a.disabled[strings.TrimSpace(domain)]
	return !off
}

// Disabled returns the disabled domains for logging.
func (a *Availability) Disabled() []string {
	if a == nil {
		return nil
	}
	var domains []string
	for domain := range a.disabled {
		domains = append(domains, domain)
	}
	return domains
}

// CheckAvailability probes the provider health endpoint once at startup and
// records which components are disabled. Replaces per-request trial calls:
// the snapshot is taken once and injected into the pipeline.
func CheckAvailability(ctx context.Context, client *Client, logger zerolog.Logger) *Availability {
	checkCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	var response struct {
		Services map[string]string `json:"services"`
	}
	if err := client.Get(checkCtx, "/health", nil, &response); err != nil {
		logger.Warn().Err(err).Msg("provider health probe failed; assuming all components available")
		return &Availability{}
	}

	disabled := make(map[string]struct{})
	for domain, state := range response.Services {
		switch strings.ToLower(strings.TrimSpace(state)) {
		case "ok", "up", "available", "":
		default:
			disabled[strings.TrimSpace(domain)] = struct{}{}
			logger.Warn().Str("domain", domain).Str("state", state).Msg("provider component unavailable at startup")
		}
	}
	return &Availability{disabled: disabled}
}
