package integration

import (
	"sync"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
)

// ConnectorInstance holds the identity, scheduling details and runtime state
// of one supervised connector. The handler owning it is the only writer and
// holds its lock while writing; readers such as summaries use the instance's
// own read lock and never wait behind a running refresh.
type ConnectorInstance struct {
	mu sync.RWMutex

	details config.ConnectorConfig

	connector  core.Connector
	instanceID string

	status           ConnectorStatus
	lastStatusChange time.Time
	lastRefresh      time.Time
	failingMessage   string
	statistics       map[string]interface{}
}

func newConnectorInstance(details config.ConnectorConfig, now time.Time) *ConnectorInstance {
	return &ConnectorInstance{
		details:          details.Clone(),
		status:           StatusUninitialized,
		lastStatusChange: now,
	}
}

// setStatus moves to s and stamps the change time in one step. It returns
// the previous status.
func (i *ConnectorInstance) setStatus(s ConnectorStatus, now time.Time) ConnectorStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.status
	i.status = s
	i.lastStatusChange = now
	if !s.IsFailure() {
		i.failingMessage = ""
	}
	return prev
}

// fail moves to a failure status with msg as the failing message
func (i *ConnectorInstance) fail(s ConnectorStatus, msg string, now time.Time) ConnectorStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.status
	i.status = s
	i.lastStatusChange = now
	i.failingMessage = msg
	return prev
}

// setCycleStatus switches between WAITING and REFRESHING. A routine refresh
// cycle is not a status change, so the change time is left alone.
func (i *ConnectorInstance) setCycleStatus(s ConnectorStatus) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

func (i *ConnectorInstance) recordRefresh(now time.Time) {
	i.mu.Lock()
	i.lastRefresh = now
	i.mu.Unlock()
}

func (i *ConnectorInstance) install(c core.Connector, instanceID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.connector = c
	i.instanceID = instanceID
	i.statistics = nil
}

func (i *ConnectorInstance) clearConnector() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.connector = nil
	i.instanceID = ""
}

// reset clears everything but the details and returns to UNINITIALIZED
func (i *ConnectorInstance) reset(now time.Time) ConnectorStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.status
	i.connector = nil
	i.instanceID = ""
	i.status = StatusUninitialized
	i.lastStatusChange = now
	i.lastRefresh = time.Time{}
	i.failingMessage = ""
	i.statistics = nil
	return prev
}

func (i *ConnectorInstance) setDetails(d config.ConnectorConfig) {
	i.mu.Lock()
	i.details = d.Clone()
	i.mu.Unlock()
}

// captureStatistics copies the connector's statistics, if it reports any
func (i *ConnectorInstance) captureStatistics() {
	i.mu.RLock()
	c := i.connector
	i.mu.RUnlock()

	reporter, ok := c.(core.StatisticsReporter)
	if !ok {
		return
	}
	stats := reporter.Statistics()

	i.mu.Lock()
	i.statistics = stats
	i.mu.Unlock()
}

// Status returns the current status
func (i *ConnectorInstance) Status() ConnectorStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// StatusSince returns the status together with the time it was entered
func (i *ConnectorInstance) StatusSince() (ConnectorStatus, time.Time) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status, i.lastStatusChange
}

// LastRefresh returns the time of the last refresh or engage cycle
func (i *ConnectorInstance) LastRefresh() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastRefresh
}

// FailingMessage returns the message of the last failure
func (i *ConnectorInstance) FailingMessage() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.failingMessage
}

// InstanceID returns the id of the current connector instance
func (i *ConnectorInstance) InstanceID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.instanceID
}

// Details returns a copy of the registration details
func (i *ConnectorInstance) Details() config.ConnectorConfig {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.details.Clone()
}

func (i *ConnectorInstance) currentConnector() core.Connector {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.connector
}

// Report builds a summary record
func (i *ConnectorInstance) Report(owner string) ConnectorReport {
	i.mu.RLock()
	defer i.mu.RUnlock()

	r := ConnectorReport{
		ConnectorID:               i.details.ConnectorID,
		ConnectorName:             i.details.DisplayName(),
		Owner:                     owner,
		ConnectorType:             i.details.Connection.ConnectorType,
		Status:                    i.status,
		Connection:                i.details.Connection.Redacted(),
		ConnectorInstanceID:       i.instanceID,
		FailingMessage:            i.failingMessage,
		LastStatusChange:          i.lastStatusChange,
		MinRefreshIntervalSeconds: int64(i.details.RefreshInterval / time.Second),
		UsesBlockingCalls:         i.details.UsesBlockingCalls,
		StartDate:                 i.details.StartDate,
		StopDate:                  i.details.StopDate,
	}
	if !i.lastRefresh.IsZero() {
		t := i.lastRefresh
		r.LastRefreshTime = &t
	}
	if len(i.statistics) > 0 {
		r.Statistics = make(map[string]interface{}, len(i.statistics))
		for k, v := range i.statistics {
			r.Statistics[k] = v
		}
	}
	return r
}
