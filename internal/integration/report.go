package integration

import (
	"time"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
)

// ConnectorReport is the operator-facing summary of one connector.
type ConnectorReport struct {
	ConnectorID               string                 `json:"connector_id"`
	ConnectorName             string                 `json:"connector_name"`
	Owner                     string                 `json:"owner"`
	ConnectorType             string                 `json:"connector_type"`
	Status                    ConnectorStatus        `json:"status"`
	Connection                core.Connection        `json:"connection"`
	ConnectorInstanceID       string                 `json:"connector_instance_id,omitempty"`
	FailingMessage            string                 `json:"failing_message,omitempty"`
	Statistics                map[string]interface{} `json:"statistics,omitempty"`
	LastStatusChange          time.Time              `json:"last_status_change"`
	LastRefreshTime           *time.Time             `json:"last_refresh_time,omitempty"`
	MinRefreshIntervalSeconds int64                  `json:"min_refresh_interval_seconds"`
	UsesBlockingCalls         bool                   `json:"uses_blocking_calls"`
	StartDate                 *time.Time             `json:"start_date,omitempty"`
	StopDate                  *time.Time             `json:"stop_date,omitempty"`
}
