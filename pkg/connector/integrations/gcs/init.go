package gcs

import "github.com/ajitpratap0/integrationd/pkg/connector/registry"

func init() {
	registry.MustRegister(&registry.ConnectorInfo{
		Name:        ConnectorType,
		Description: "Catalogues the objects under a Google Cloud Storage bucket prefix",
		Version:     version,
		ConfigSchema: map[string]interface{}{
			"bucket": map[string]interface{}{
				"type":     "string",
				"required": true,
			},
			"prefix": map[string]interface{}{
				"type": "string",
			},
			"credentials_file": map[string]interface{}{
				"type":        "string",
				"description": "Service account key file; application default credentials when empty",
			},
			"endpoint": map[string]interface{}{
				"type":        "string",
				"description": "Custom endpoint, e.g. a storage emulator",
			},
		},
	}, New)
}
