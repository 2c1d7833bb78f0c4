package capability

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type metadataDocument struct {
	Version      string `yaml:"version"`
	Service      string `yaml:"service"`
	Capabilities []struct {
		Domain      string `yaml:"domain"`
		Action      string `yaml:"action"`
		Description string `yaml:"description"`
	} `yaml:"capabilities"`
	Categories []struct {
		ID             string `yaml:"id"`
		Name           string `yaml:"name"`
		Description    string `yaml:"description"`
		CostDescriptor string `yaml:"costDescriptor"`
	} `yaml:"categories"`
}

// ApplyMetadata merges the embedded human-facing metadata document into the
// registry and validates that it is exhaustive: every entry needs a
// description, every category needs display metadata, and the document may
// not reference capabilities or categories the table does not define.
func (r *Registry) ApplyMetadata(raw []byte) error {
	var doc metadataDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding capability metadata: %w", err)
	}
	if len(doc.Capabilities) == 0 {
		return fmt.Errorf("capability metadata document has no capabilities")
	}

	described := make(map[Key]struct{}, len(doc.Capabilities))
	for _, meta := range doc.Capabilities {
		key := Key{Domain: strings.TrimSpace(meta.Domain), Action: strings.TrimSpace(meta.Action)}
		entry, ok := r.entries[key]
		if !ok {
			return fmt.Errorf("metadata describes unknown capability %s", key)
		}
		if _, dup := described[key]; dup {
			return fmt.Errorf("metadata describes capability %s twice", key)
		}
		description := strings.TrimSpace(meta.Description)
		if description == "" {
			return fmt.Errorf("metadata for capability %s has empty description", key)
		}
		described[key] = struct{}{}
		entry.Description = description
		r.entries[key] = entry
	}
	for _, key := range r.ordered {
		if _, ok := described[key]; !ok {
			return fmt.Errorf("capability %s has no metadata description", key)
		}
	}

	named := make(map[CategoryID]struct{}, len(doc.Categories))
	for _, meta := range doc.Categories {
		id := CategoryID(strings.TrimSpace(meta.ID))
		if _, ok := r.categories[id]; !ok {
			return fmt.Errorf("metadata describes unknown consent category %q", id)
		}
		if _, dup := named[id]; dup {
			return fmt.Errorf("metadata describes consent category %q twice", id)
		}
		name := strings.TrimSpace(meta.Name)
		costDescriptor := strings.TrimSpace(meta.CostDescriptor)
		if name == "" {
			return fmt.Errorf("consent category %q has empty display name", id)
		}
		if costDescriptor == "" {
			return fmt.Errorf("consent category %q has empty cost descriptor", id)
		}
		named[id] = struct{}{}
		r.categories[id] = Category{
			ID:             id,
			Name:           name,
			Description:    strings.TrimSpace(meta.Description),
			CostDescriptor: costDescriptor,
		}
	}
	for _, id := range CategoryIDs() {
		if _, ok := named[id]; !ok {
			return fmt.Errorf("consent category %q has no metadata", id)
		}
	}

	return nil
}
