package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/dispatch"
)

// operation declares how one capability maps onto the provider REST surface.
type operation struct {
	method string
	// path may contain {name} placeholders resolved from request params.
	path string
	// body lists params forwarded as the JSON request body on POST.
	body []string
	// query lists params forwarded as query values beyond limit/offset.
	query []string
	// required lists params that must be present and non-empty.
	required []string
}

// operations is the declarative table behind Routes. Keys must line up with
// the capability registry; dispatch.ValidateTable enforces that at startup.
var operations = map[capability.Key]operation{
	{Domain: "compute", Action: "list"}:      {method: http.MethodGet, path: "/compute/v1/instances", query: []string{"state"}},
	{Domain: "compute", Action: "get"}:       {method: http.MethodGet, path: "/compute/v1/instances/{id}", required: []string{"id"}},
	{Domain: "compute", Action: "start"}:     {method: http.MethodPost, path: "/compute/v1/instances/{id}/start", required: []string{"id"}},
	{Domain: "compute", Action: "stop"}:      {method: http.MethodPost, path: "/compute/v1/instances/{id}/stop", required: []string{"id"}},
	{Domain: "compute", Action: "reboot"}:    {method: http.MethodPost, path: "/compute/v1/instances/{id}/reboot", required: []string{"id"}},
	{Domain: "compute", Action: "terminate"}: {method: http.MethodDelete, path: "/compute/v1/instances/{id}", required: []string{"id"}},

	{Domain: "storage", Action: "list-buckets"}:  {method: http.MethodGet, path: "/storage/v1/buckets"},
	{Domain: "storage", Action: "get-bucket"}:    {method: http.MethodGet, path: "/storage/v1/buckets/{bucket}", required: []string{"bucket"}},
	{Domain: "storage", Action: "list-objects"}:  {method: http.MethodGet, path: "/storage/v1/buckets/{bucket}/objects", query: []string{"prefix"}, required: []string{"bucket"}},
	{Domain: "storage", Action: "delete-bucket"}: {method: http.MethodDelete, path: "/storage/v1/buckets/{bucket}", required: []string{"bucket"}},

	{Domain: "functions", Action: "list"}:   {method: http.MethodGet, path: "/functions/v1/functions"},
	{Domain: "functions", Action: "get"}:    {method: http.MethodGet, path: "/functions/v1/functions/{id}", required: []string{"id"}},
	{Domain: "functions", Action: "invoke"}: {method: http.MethodPost, path: "/functions/v1/functions/{id}/invocations", body: []string{"payload"}, required: []string{"id"}},

	{Domain: "database", Action: "list"}:     {method: http.MethodGet, path: "/database/v1/instances"},
	{Domain: "database", Action: "get"}:      {method: http.MethodGet, path: "/database/v1/instances/{id}", required: []string{"id"}},
	{Domain: "database", Action: "snapshot"}: {method: http.MethodPost, path: "/database/v1/instances/{id}/snapshots", body: []string{"name"}, required: []string{"id"}},

	{Domain: "monitoring", Action: "list-alarms"}: {method: http.MethodGet, path: "/monitoring/v1/alarms", query: []string{"state"}},
	{Domain: "monitoring", Action: "get-metrics"}: {method: http.MethodGet, path: "/monitoring/v1/metrics", query: []string{"metric", "resource", "period", "start", "end"}, required: []string{"metric", "resource"}},

	{Domain: "notify", Action: "list-topics"}: {method: http.MethodGet, path: "/notify/v1/topics"},
	{Domain: "notify", Action: "publish"}:     {method: http.MethodPost, path: "/notify/v1/topics/{id}/messages", body: []string{"subject", "message"}, required: []string{"id", "message"}},

	{Domain: "identity", Action: "list-users"}: {method: http.MethodGet, path: "/identity/v1/users"},
	{Domain: "identity", Action: "whoami"}:     {method: http.MethodGet, path: "/identity/v1/whoami"},

	{Domain: "cost", Action: "by-period"}:  {method: http.MethodGet, path: "/cost/v1/summary", query: []string{"granularity", "start", "end"}},
	{Domain: "cost", Action: "by-service"}: {method: http.MethodGet, path: "/cost/v1/by-service", query: []string{"start", "end"}},

	{Domain: "assistant", Action: "ask"}: {method: http.MethodPost, path: "/assistant/v1/ask", body: []string{"prompt", "context"}, required: []string{"prompt"}},
}

// Routes builds the dispatch-table slice for every provider-backed
// capability.
func Routes(client *Client) dispatch.Table {
	table := make(dispatch.Table, len(operations))
	for key, op := range operations {
		table[key] = passthroughHandler(client, key, op)
	}
	return table
}

func passthroughHandler(client *Client, key capability.Key, op operation) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, req dispatch.Request) (any, error) {
		for _, name := range op.required {
			if paramString(req.Params, name) == "" && req.Params[name] == nil {
				return nil, apperr.Newf(apperr.KindInvalidRequest, "operation %s requires parameter %q", key, name)
			}
		}

		path, err := resolvePath(op.path, req.Params)
		if err != nil {
			return nil, apperr.Newf(apperr.KindInvalidRequest, "operation %s: %v", key, err)
		}

		var result map[string]any
		switch op.method {
		case http.MethodGet:
			if err := client.Get(ctx, path, buildQuery(op, req), &result); err != nil {
				return nil, err
			}
		case http.MethodPost:
			if err := client.Post(ctx, path, buildBody(op, req), &result); err != nil {
				return nil, err
			}
		case http.MethodDelete:
			if err := client.Delete(ctx, path, &result); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("operation %s has unsupported method %s", key, op.method)
		}
		return result, nil
	})
}

// resolvePath substitutes {name} placeholders from request params.
func resolvePath(template string, params map[string]any) (string, error) {
	path := template
	for {
		start := strings.Index(path, "{")
		if start < 0 {
			return path, nil
		}
		end := strings.Index(path[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("malformed path template %q", template)
		}
		name := path[start+1 : start+end]
		value := paramString(params, name)
		if value == "" {
			return "", fmt.Errorf("parameter %q is required", name)
		}
		path = path[:start] + url.PathEscape(value) + path[start+end+1:]
	}
}

// buildQuery forwards pagination plus the allow-listed query params.
func buildQuery(op operation, req dispatch.Request) url.Values {
	query := url.Values{}
	for _, name := range append([]string{"limit", "offset"}, op.query...) {
		if value := paramString(req.Params, name); value != "" {
			query.Set(name, value)
		}
	}
	if req.Region != "" {
		query.Set("region", req.Region)
	}
	return query
}

// buildBody forwards the allow-listed body params verbatim.
func buildBody(op operation, req dispatch.Request) map[string]any {
	body := make(map[string]any)
	for _, name := range op.body {
		if value, ok := req.Params[name]; ok && value != nil {
			body[name] = value
		}
	}
	if req.Region != "" {
		body["region"] = req.Region
	}
	return body
}

func paramString(params map[string]any, name string) string {
	if params == nil {
		return ""
	}
	switch value := params[name].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", value), "0"), ".")
	case int:
		return fmt.Sprintf("%d", value)
	case bool:
		return fmt.Sprintf("%t", value)
	default:
		return ""
	}
}
