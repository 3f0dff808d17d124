package foundry

import (
	"fmt"
	"strings"
)

// Config contains the Azure AI Foundry connection settings.
type Config struct {
	TenantID     string `env:"AZURE_TENANT_ID"`
	ClientID     string `env:"AZURE_CLIENT_ID"`
	ClientSecret string `env:"AZURE_CLIENT_SECRET"`
	Endpoint     string `env:"AZURE_ENDPOINT"`
	AgentID      string `env:"AZURE_AGENT_ID"`
	APIVersion   string `env:"AZURE_API_VERSION" envDefault:"2025-05-01"`
	TokenScope   string `env:"AZURE_TOKEN_SCOPE" envDefault:"https://ai.azure.com/.default"`

	// Timeout bounds each control-plane call (thread, message, cancel) in
	// seconds. The streaming read is governed by the request context only.
	Timeout int `env:"AZURE_TIMEOUT" envDefault:"120"`
}

// Validate reports all missing required settings at once.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"AZURE_TENANT_ID", c.TenantID},
		{"AZURE_CLIENT_ID", c.ClientID},
		{"AZURE_CLIENT_SECRET", c.ClientSecret},
		{"AZURE_ENDPOINT", c.Endpoint},
		{"AZURE_AGENT_ID", c.AgentID},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}
