// Package connector is the SDK for integration connectors.
//
// The package is organized into several sub-packages:
//
//   - core: the interfaces a connector implements (Connector, Engager,
//     ContextAware, StatisticsReporter), the Context the daemon hands to a
//     connector, and the Connection descriptor connectors are built from.
//
//   - base: BaseConnector, which built-in connectors embed for context
//     storage, statistics and logging, plus the retry policy and Snapshot,
//     which turns successive catalogue listings into created, updated and
//     deleted element reports.
//
//   - registry: the connector broker. Factories are keyed by connector type
//     and connectors self-register from init.
//
//   - integrations: the built-in connectors.
//
// # Writing a connector
//
// A polled connector implements Start, Refresh and Disconnect. Refresh is
// called by the shared scheduler at most once per refresh interval and
// reports what changed through its Context:
//
//	type Connector struct {
//		*base.BaseConnector
//		snapshot *base.Snapshot
//	}
//
//	func (c *Connector) Refresh(ctx context.Context) error {
//		ictx, err := c.RequireContext()
//		if err != nil {
//			return err
//		}
//		versions, err := c.list(ctx)
//		if err != nil {
//			return errors.Wrap(err, errors.ErrorTypeRuntime, "listing failed")
//		}
//		c.snapshot.Apply(versions).Report(ictx)
//		c.MarkCycle()
//		return nil
//	}
//
// A connector that waits on a remote system also implements Engage and is
// registered with UsesBlockingCalls. The daemon calls Engage in a loop on a
// goroutine of its own while the connector is running.
//
// Register the factory from init:
//
//	func init() {
//		registry.MustRegister(&registry.ConnectorInfo{
//			Name:        "my-connector",
//			Description: "Tracks my system",
//			Version:     "1.0.0",
//		}, New)
//	}
package connector
