package diag

import (
	"sort"
	"strings"

	"github.com/opsgate/opsgate/internal/capability"
)

// PolicyVersion identifies the synthesized policy document format.
const PolicyVersion = "opsgate/v1"

// PolicyStatement is one permission block of a synthesized policy.
type PolicyStatement struct {
	Sid     string   `json:"sid"`
	Effect  string   `json:"effect"`
	Actions []string `json:"actions"`
}

// PolicyDocument is a minimal permission policy covering the selected
// capability groups.
type PolicyDocument struct {
	Version    string            `json:"version"`
	Statements []PolicyStatement `json:"statements"`
}

// SynthesizePolicy builds a least-privilege policy from a per-domain
// selection map. Pure function over the registry: the same selections always
// produce the same ordered, deduplicated statement list. Unknown or disabled
// groups contribute nothing; groups with no provider permissions (the local
// consent sub-protocol) are omitted.
func SynthesizePolicy(registry *capability.Registry, selections map[string]bool) PolicyDocument {
	doc := PolicyDocument{Version: PolicyVersion}

	for _, domain := range registry.Domains() {
		if !selections[domain] {
			continue
		}

		seen := make(map[string]struct{})
		var actions []string
		for _, entry := range registry.List() {
			if entry.Key.Domain != domain {
				continue
			}
			for _, permission := range entry.RequiredPermissions {
				if _, dup := seen[permission]; dup {
					continue
				}
				seen[permission] = struct{}{}
				actions = append(actions, permission)
			}
		}
		if len(actions) == 0 {
			continue
		}
		sort.Strings(actions)

		doc.Statements = append(doc.Statements, PolicyStatement{
			Sid:     statementID(domain),
			Effect:  "Allow",
			Actions: actions,
		})
	}

	return doc
}

func statementID(domain string) string {
	if domain == "" {
		return "OpsgateAccess"
	}
	return "Opsgate" + strings.ToUpper(domain[:1]) + domain[1:] + "Access"
}
