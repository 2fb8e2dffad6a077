package manifestio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskwire/extensions/internal/domain/manifest"
)

func TestValidateConfig_NoSchemaAlwaysPasses(t *testing.T) {
	m := &manifest.Manifest{ID: "discord-bridge"}
	assert.NoError(t, ValidateConfig(m, map[string]string{"anything": "goes"}))
}

func TestValidateConfig_RequiredKeyMissing(t *testing.T) {
	m := &manifest.Manifest{
		ID: "discord-bridge",
		ConfigSchema: `{
			"type": "object",
			"required": ["webhook_url"],
			"properties": {"webhook_url": {"type": "string"}}
		}`,
	}
	err := ValidateConfig(m, map[string]string{})
	require.Error(t, err)
}

func TestValidateConfig_SatisfiesSchema(t *testing.T) {
	m := &manifest.Manifest{
		ID: "discord-bridge",
		ConfigSchema: `{
			"type": "object",
			"required": ["webhook_url"],
			"properties": {"webhook_url": {"type": "string"}}
		}`,
	}
	assert.NoError(t, ValidateConfig(m, map[string]string{"webhook_url": "https://example.test/hook"}))
}
