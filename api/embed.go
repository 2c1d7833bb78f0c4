// Package api embeds the capability metadata contract served and validated
// by the gateway.
package api

import _ "embed"

// CapabilitiesMetadata is the embedded capability metadata document.
//
//go:embed capabilities.yaml
var CapabilitiesMetadata []byte
