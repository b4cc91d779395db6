package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads and decodes a site config file.
//
// Load enforces the schema version and structural validity (it must decode),
// but does not run Validate; callers decide how to surface issues. A config
// with schema_version != CurrentSchemaVersion is rejected so that old files
// fail loudly instead of silently misbehaving.
func Load(path string) (*SiteConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}

	var c SiteConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse site config json: %w", err)
	}

	if c.SchemaVersion != CurrentSchemaVersion {
		return nil, fmt.Errorf("site config %s: unsupported schema_version %d (want %d)",
			path, c.SchemaVersion, CurrentSchemaVersion)
	}
	return &c, nil
}

// Save writes a site config as indented JSON, suitable for hand editing.
func Save(path string, c *SiteConfig) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode site config: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write site config: %w", err)
	}
	return nil
}
