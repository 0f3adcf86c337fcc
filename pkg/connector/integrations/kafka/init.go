package kafka

import "github.com/ajitpratap0/integrationd/pkg/connector/registry"

func init() {
	registry.MustRegister(&registry.ConnectorInfo{
		Name:              ConnectorType,
		Description:       "Listens to Kafka change notification topics through a consumer group",
		Version:           version,
		UsesBlockingCalls: true,
		ConfigSchema: map[string]interface{}{
			"brokers": map[string]interface{}{
				"type":        "array",
				"description": "Bootstrap brokers; defaults to the comma separated endpoint network address",
			},
			"topics": map[string]interface{}{
				"type":     "array",
				"required": true,
			},
			"group_id": map[string]interface{}{
				"type":        "string",
				"description": "Consumer group id; defaults to integrationd-<connector id>",
			},
			"initial_offset": map[string]interface{}{
				"type":    "string",
				"default": "newest",
				"enum":    []string{"oldest", "newest"},
			},
			"sasl_mechanism": map[string]interface{}{
				"type":        "string",
				"default":     "PLAIN",
				"description": "Used when the connection carries a user id",
			},
		},
	}, New)
}
