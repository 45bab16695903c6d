package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	example := Default()
	example.Database.Password = "changeme"
	example.Logging.FilePath = "./logs/trafficlite.log"

	// Create a YAML node for custom formatting with comments
	var node yaml.Node
	if err := node.Encode(example); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	header := `# =============================================================================
# trafficlite Example Configuration
# =============================================================================
# Copy this file to config.yaml and modify it according to your needs.
#
# Environment variable overrides follow the pattern: TRAFFIC_<SECTION>_<KEY>
# Example: TRAFFIC_TRANSPORT_ADDRESS, TRAFFIC_CONTROLLER_ITERATIONS
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	footer := `
# =============================================================================
# Notes:
# =============================================================================
#
# 1. Controller:
#    - green_threshold is compared with a single sample; with max_vehicles 5
#      the light never turns GREEN unless the threshold is lowered
#    - holds run sequentially, so one iteration lasts up to the sum of holds
#
# 2. Database:
#    - Leave database.enabled false to run with the event log file only
#    - Migrations run automatically on startup when enabled
#
# 3. API:
#    - Set server.auth_secret (min 32 chars) to require bearer tokens
#    - Issue a token with: trafficlite token --subject <name>
# =============================================================================
`
	if _, err := fmt.Fprint(w, footer); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}

	return nil
}
