package sqlpoll

import "github.com/ajitpratap0/integrationd/pkg/connector/registry"

func init() {
	registry.MustRegister(&registry.ConnectorInfo{
		Name:        ConnectorType,
		Description: "Polls a SQL catalogue query on PostgreSQL or MySQL and reports changed rows",
		Version:     version,
		ConfigSchema: map[string]interface{}{
			"driver": map[string]interface{}{
				"type":        "string",
				"default":     "pgx",
				"enum":        []string{"pgx", "postgres", "mysql"},
				"description": "Database driver",
			},
			"dsn": map[string]interface{}{
				"type":        "string",
				"description": "Data source name; built from the endpoint, user id and password when empty",
			},
			"database": map[string]interface{}{
				"type":        "string",
				"description": "Database name used when the dsn is built",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Query returning an element id column and a version column",
			},
			"query_timeout": map[string]interface{}{
				"type":    "string",
				"default": "30s",
			},
			"max_open_conns": map[string]interface{}{
				"type":    "integer",
				"default": 2,
			},
		},
	}, New)
}
