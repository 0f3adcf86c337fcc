package integration

// ConnectorStatus is the lifecycle status of a connector handler.
type ConnectorStatus string

const (
	// StatusUninitialized is the status before the first initialization and after shutdown
	StatusUninitialized ConnectorStatus = "UNINITIALIZED"
	// StatusInitialized means the connector is built and bound to its context
	StatusInitialized ConnectorStatus = "INITIALIZED"
	// StatusRunning means a blocking connector is engaged on its dedicated goroutine
	StatusRunning ConnectorStatus = "RUNNING"
	// StatusWaiting means a polled connector is idle between refreshes
	StatusWaiting ConnectorStatus = "WAITING"
	// StatusRefreshing means a refresh is executing
	StatusRefreshing ConnectorStatus = "REFRESHING"
	// StatusStopped means the connector was disconnected
	StatusStopped ConnectorStatus = "STOPPED"
	// StatusConfigFailed means the connector could not be built; it is not retried
	StatusConfigFailed ConnectorStatus = "CONFIG_FAILED"
	// StatusInitializeFailed means the context could not be bound; the next refresh retries
	StatusInitializeFailed ConnectorStatus = "INITIALIZE_FAILED"
	// StatusFailed means the connector failed at runtime; it waits for an operator restart
	StatusFailed ConnectorStatus = "FAILED"
)

// IsFailure reports whether s is one of the failure statuses
func (s ConnectorStatus) IsFailure() bool {
	switch s {
	case StatusConfigFailed, StatusInitializeFailed, StatusFailed:
		return true
	}
	return false
}

// canDisconnect reports whether a connector in status s holds live resources
// that a disconnect should release.
func (s ConnectorStatus) canDisconnect() bool {
	switch s {
	case StatusInitialized, StatusRunning, StatusWaiting, StatusRefreshing, StatusFailed:
		return true
	}
	return false
}

func (s ConnectorStatus) String() string {
	return string(s)
}
