// Package integrationd is an integration daemon: it supervises pluggable
// integration connectors that keep a metadata catalogue in step with third
// party technologies.
//
// # Architecture
//
// A daemon server hosts integration services and integration groups.
//
//   - An integration service lists its connectors in the daemon configuration.
//     The set is fixed for the life of the server.
//   - An integration group reads its connectors from a registration store
//     (a YAML file, PostgreSQL or Redis) and reconciles the running set
//     against it on a fixed interval or on operator request.
//
// Every connector is owned by a handler that drives it through its lifecycle:
// it is built from its connection descriptor by the connector broker, bound
// to an integration context, started, refreshed and finally disconnected.
// Polled connectors are refreshed by one shared scheduler that bounds how many
// refreshes run at once. Connectors that use blocking calls run on their own
// goroutine. A failure is recorded on the connector that caused it and never
// reaches other connectors or the scheduler.
//
// # Built-in connectors
//
//   - sql-poller: polls a catalogue query on PostgreSQL or MySQL
//   - kafka-listener: follows change events on Kafka topics
//   - s3-catalogue: tracks the objects of an S3 bucket
//   - gcs-catalogue: tracks the objects of a Google Cloud Storage bucket
//   - mongodb-change-stream: follows a MongoDB change stream
//
// # Running
//
//	integrationd validate --config integrationd.yaml
//	integrationd run --config integrationd.yaml
//
// The operator API is served under /servers/{server}; prometheus metrics are
// served on /metrics.
//
// # Package layout
//
//   - cmd/integrationd: the command line
//   - internal/integration: handlers, services, groups and the scheduler
//   - internal/daemon: one daemon server assembled from its configuration
//   - internal/api: the operator REST API
//   - internal/registration: registration stores
//   - internal/audit: the audit log
//   - pkg/connector: the connector SDK and built-in connectors
//   - pkg/config, pkg/errors, pkg/logger, pkg/metrics, pkg/observability:
//     shared infrastructure
package integrationd
