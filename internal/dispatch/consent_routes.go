package dispatch

import (
	"context"
	"fmt"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/consent"
)

// ConsentRoutes builds the routing-table slice for the consent sub-protocol,
// served locally rather than by the remote provider.
func ConsentRoutes(service *consent.Service) Table {
	key := func(action string) capability.Key {
		return capability.Key{Domain: "consent", Action: action}
	}

	return Table{
		key("grant"): HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			entry, ack, err := service.Grant(ctx, req.UserID, stringParam(req, "categoryId"))
			if err != nil {
				return nil, invalidConsentRequest(err)
			}
			return consentChangeResult(entry, ack), nil
		}),
		key("revoke"): HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			entry, ack, err := service.Revoke(ctx, req.UserID, stringParam(req, "categoryId"))
			if err != nil {
				return nil, invalidConsentRequest(err)
			}
			return consentChangeResult(entry, ack), nil
		}),
		key("revoke-all"): HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			entries, ack, err := service.RevokeAll(ctx, req.UserID)
			if err != nil {
				return nil, invalidConsentRequest(err)
			}
			return map[string]any{
				"categories": entries,
				"degraded":   ack.Degraded,
				"warning":    ack.Warning,
			}, nil
		}),
		key("status"): HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			entries, err := service.Status(ctx, req.UserID)
			if err != nil {
				return nil, invalidConsentRequest(err)
			}
			return map[string]any{"categories": entries}, nil
		}),
		key("list"): HandlerFunc(func(_ context.Context, _ Request) (any, error) {
			return map[string]any{"categories": service.List()}, nil
		}),
	}
}

func consentChangeResult(entry consent.StatusEntry, ack consent.Ack) map[string]any {
	result := map[string]any{
		"category": entry.Category,
		"granted":  entry.Granted,
	}
	if entry.GrantedAt != nil {
		result["grantedAt"] = entry.GrantedAt
	}
	if ack.Degraded {
		result["degraded"] = true
		result["warning"] = ack.Warning
	}
	return result
}

func stringParam(req Request, name string) string {
	if req.Params == nil {
		return ""
	}
	value, _ := req.Params[name].(string)
	return value
}

func invalidConsentRequest(err error) error {
	return apperr.New(apperr.KindInvalidRequest, fmt.Sprintf("consent request rejected: %v", err))
}
