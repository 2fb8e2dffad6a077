package manifestio

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/deskwire/extensions/internal/domain/manifest"
)

// ValidateConfig checks an admin-supplied config map against m's declared
// ConfigSchema, when one is present. A module with no ConfigSchema accepts
// any config map unchecked.
func ValidateConfig(m *manifest.Manifest, configMap map[string]string) error {
	if strings.TrimSpace(m.ConfigSchema) == "" {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "config_schema.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(m.ConfigSchema)); err != nil {
		return fmt.Errorf("manifestio: invalid config_schema for %s: %w", m.ID, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("manifestio: compile config_schema for %s: %w", m.ID, err)
	}

	asAny := make(map[string]interface{}, len(configMap))
	for k, v := range configMap {
		asAny[k] = v
	}

	if err := schema.Validate(asAny); err != nil {
		return fmt.Errorf("manifestio: config for %s does not satisfy config_schema: %w", m.ID, err)
	}
	return nil
}
