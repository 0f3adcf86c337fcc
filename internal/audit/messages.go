package audit

// Severity classifies an audit message
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityStartup  Severity = "STARTUP"
	SeverityShutdown Severity = "SHUTDOWN"
	SeverityAction   Severity = "ACTION"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
)

// Definition is a catalogued audit message. Text is a fmt template filled by
// Message.
type Definition struct {
	ID       string
	Severity Severity
	Text     string
}

// Message is a definition with its parameters applied
type Message struct {
	ID       string
	Severity Severity
	Text     string
}

// Catalogue of daemon audit messages
var (
	ConnectorInitialized = Definition{"INTEGRATIOND-0001", SeverityStartup,
		"Connector %s (%s) of type %s is initialized; reason: %s"}
	ConnectorConfigFailed = Definition{"INTEGRATIOND-0002", SeverityError,
		"Connector %s (%s) could not be built from its connection: %s"}
	ConnectorContextFailed = Definition{"INTEGRATIOND-0003", SeverityError,
		"Connector %s (%s) could not be bound to its integration context: %s"}
	ConnectorStarted = Definition{"INTEGRATIOND-0004", SeverityStartup,
		"Connector %s (%s) started in status %s"}
	ConnectorStartFailed = Definition{"INTEGRATIOND-0005", SeverityError,
		"Connector %s (%s) failed to start: %s"}
	ConnectorRefreshFailed = Definition{"INTEGRATIOND-0006", SeverityError,
		"Connector %s (%s) failed during %s: %s"}
	ConnectorDisconnected = Definition{"INTEGRATIOND-0007", SeverityShutdown,
		"Connector %s (%s) disconnected; reason: %s"}
	ConnectorDisconnectFailed = Definition{"INTEGRATIOND-0008", SeverityError,
		"Connector %s (%s) failed to disconnect: %s"}
	ConnectorThreadFailed = Definition{"INTEGRATIOND-0009", SeverityError,
		"Connector %s (%s) uses blocking calls but cannot engage: %s"}
	ConnectorDetailsUpdated = Definition{"INTEGRATIOND-0010", SeverityAction,
		"Connector %s (%s) details updated; restart required: %t"}
	ConnectorWindowClosed = Definition{"INTEGRATIOND-0011", SeverityAction,
		"Connector %s (%s) passed its stop date and is being stopped"}
	RegistrationSkipped = Definition{"INTEGRATIOND-0012", SeverityWarning,
		"Group %s skipped a registration: %s"}
	RegistrationOwnedElsewhere = Definition{"INTEGRATIOND-0013", SeverityWarning,
		"Group %s skipped connector %s because it is already supervised by %s"}
	GroupReconciled = Definition{"INTEGRATIOND-0014", SeverityInfo,
		"Group %s reconciled: %d added, %d updated, %d removed, %d skipped"}
	GroupConfigFailed = Definition{"INTEGRATIOND-0015", SeverityError,
		"Group %s could not read its registrations: %s"}
	ServiceStarted = Definition{"INTEGRATIOND-0016", SeverityStartup,
		"Service %s started with %d connectors"}
	ServiceShutdown = Definition{"INTEGRATIOND-0017", SeverityShutdown,
		"Service %s shut down"}
	IntegrationReport = Definition{"INTEGRATIOND-0018", SeverityInfo,
		"Connector %s (%s) published a report: %d created, %d updated, %d deleted"}
	DaemonStarted = Definition{"INTEGRATIOND-0019", SeverityStartup,
		"Integration daemon %s started with %d services and %d groups"}
	DaemonStopped = Definition{"INTEGRATIOND-0020", SeverityShutdown,
		"Integration daemon %s stopped"}
)
