package mongodb

import "github.com/ajitpratap0/integrationd/pkg/connector/registry"

func init() {
	registry.MustRegister(&registry.ConnectorInfo{
		Name:              ConnectorType,
		Description:       "Follows a MongoDB change stream and reports changed documents",
		Version:           version,
		UsesBlockingCalls: true,
		ConfigSchema: map[string]interface{}{
			"uri": map[string]interface{}{
				"type":        "string",
				"description": "Connection string; may also be set as a secured property",
			},
			"database": map[string]interface{}{
				"type":     "string",
				"required": true,
			},
			"collections": map[string]interface{}{
				"type":        "array",
				"description": "Collections to follow; all when empty",
			},
			"connect_timeout": map[string]interface{}{
				"type":    "string",
				"default": "10s",
			},
			"max_await_time": map[string]interface{}{
				"type":    "string",
				"default": "30s",
			},
		},
	}, New)
}
