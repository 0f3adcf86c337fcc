package s3

import "github.com/ajitpratap0/integrationd/pkg/connector/registry"

func init() {
	registry.MustRegister(&registry.ConnectorInfo{
		Name:        ConnectorType,
		Description: "Catalogues the objects under an Amazon S3 (or S3 compatible) bucket prefix",
		Version:     version,
		ConfigSchema: map[string]interface{}{
			"bucket": map[string]interface{}{
				"type":     "string",
				"required": true,
			},
			"prefix": map[string]interface{}{
				"type": "string",
			},
			"region": map[string]interface{}{
				"type":    "string",
				"default": "us-east-1",
			},
			"endpoint": map[string]interface{}{
				"type":        "string",
				"description": "Custom endpoint URL; defaults to the endpoint network address",
			},
			"force_path_style": map[string]interface{}{
				"type":    "boolean",
				"default": false,
			},
			"page_size": map[string]interface{}{
				"type":    "integer",
				"default": 1000,
			},
		},
	}, New)
}
