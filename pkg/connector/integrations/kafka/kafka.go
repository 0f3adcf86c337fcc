// Package kafka implements a blocking connector that listens to change
// notification topics. Every message key is an element id. The optional
// "operation" header (create, update, delete) classifies the change; a
// tombstone is a delete and anything else an update.
package kafka

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ajitpratap0/integrationd/pkg/connector/base"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.uber.org/zap"
)

const (
	// ConnectorType is the connection type this package registers
	ConnectorType = "kafka-listener"
	version       = "1.0.0"
)

type options struct {
	brokers       []string
	topics        []string
	groupID       string
	initialOffset int64
	saslUser      string
	saslPassword  string
	saslMechanism string
}

func parseOptions(conn core.Connection) (options, error) {
	opts := options{
		brokers:       conn.StringsProperty("brokers"),
		topics:        conn.StringsProperty("topics"),
		groupID:       conn.StringProperty("group_id", ""),
		saslUser:      conn.UserID,
		saslPassword:  conn.ClearPassword,
		saslMechanism: strings.ToUpper(conn.StringProperty("sasl_mechanism", sarama.SASLTypePlaintext)),
	}
	if len(opts.brokers) == 0 && conn.Endpoint.NetworkAddress != "" {
		opts.brokers = strings.Split(conn.Endpoint.NetworkAddress, ",")
	}
	if len(opts.brokers) == 0 {
		return opts, errors.New(errors.ErrorTypeConfig, "kafka-listener requires brokers or an endpoint network address")
	}
	if len(opts.topics) == 0 {
		return opts, errors.New(errors.ErrorTypeConfig, "kafka-listener requires the topics property")
	}

	switch conn.StringProperty("initial_offset", "newest") {
	case "oldest", "earliest":
		opts.initialOffset = sarama.OffsetOldest
	case "newest", "latest":
		opts.initialOffset = sarama.OffsetNewest
	default:
		return opts, errors.New(errors.ErrorTypeConfig, "initial_offset must be oldest or newest")
	}

	// SCRAM needs a client generator sarama does not ship
	if opts.saslMechanism != sarama.SASLTypePlaintext {
		return opts, errors.Newf(errors.ErrorTypeConfig, "unsupported sasl_mechanism %q", opts.saslMechanism)
	}
	return opts, nil
}

func (o options) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "integrationd"
	cfg.Consumer.Return.Errors = false
	cfg.Consumer.Offsets.Initial = o.initialOffset
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	if o.saslUser != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = o.saslUser
		cfg.Net.SASL.Password = o.saslPassword
		cfg.Net.SASL.Mechanism = sarama.SASLMechanism(o.saslMechanism)
	}
	return cfg
}

// consumerGroup is the part of sarama.ConsumerGroup the connector drives
type consumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}

// Connector consumes change notifications through a consumer group
type Connector struct {
	*base.BaseConnector

	opts     options
	newGroup func(brokers []string, groupID string, cfg *sarama.Config) (consumerGroup, error)

	mu    sync.Mutex
	group consumerGroup
}

// New is the registry factory for kafka-listener connections
func New(conn core.Connection) (interface{}, error) {
	opts, err := parseOptions(conn)
	if err != nil {
		return nil, err
	}
	return &Connector{
		BaseConnector: base.NewBaseConnector(ConnectorType, version, conn),
		opts:          opts,
		newGroup: func(brokers []string, groupID string, cfg *sarama.Config) (consumerGroup, error) {
			return sarama.NewConsumerGroup(brokers, groupID, cfg)
		},
	}, nil
}

// Start joins the consumer group. The group id defaults to one per connector
// id so that restarts resume from the committed offsets.
func (c *Connector) Start(ctx context.Context) error {
	ictx, err := c.RequireContext()
	if err != nil {
		return err
	}
	groupID := c.opts.groupID
	if groupID == "" {
		groupID = "integrationd-" + ictx.ConnectorID()
	}

	var group consumerGroup
	err = base.DefaultRetryPolicy().Execute(ctx, func(context.Context) error {
		g, err := c.newGroup(c.opts.brokers, groupID, c.opts.saramaConfig())
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to join consumer group").
				WithDetail("group_id", groupID)
		}
		group = g
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.group = group
	c.mu.Unlock()

	c.SetStat("group_id", groupID)
	c.Logger().Info("kafka listener joined consumer group",
		zap.String("group_id", groupID),
		zap.Strings("topics", c.opts.topics))
	return nil
}

// Refresh is a no-op: messages are handled by Engage
func (c *Connector) Refresh(context.Context) error {
	return nil
}

// Engage runs one consumer group session. It returns when the group
// rebalances or ctx is cancelled.
func (c *Connector) Engage(ctx context.Context) error {
	ictx, err := c.RequireContext()
	if err != nil {
		return err
	}
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group == nil {
		return errors.New(errors.ErrorTypeRuntime, "kafka-listener is not started")
	}

	handler := &claimHandler{connector: c, ictx: ictx}
	if err := group.Consume(ctx, c.opts.topics, handler); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, errors.ErrorTypeRuntime, "consumer group session failed")
	}
	c.MarkCycle()
	return nil
}

// Disconnect leaves the consumer group
func (c *Connector) Disconnect(context.Context) error {
	c.mu.Lock()
	group := c.group
	c.group = nil
	c.mu.Unlock()

	if group == nil {
		return nil
	}
	if err := group.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to leave consumer group")
	}
	return nil
}

// claimHandler implements sarama.ConsumerGroupHandler for one session
type claimHandler struct {
	connector *Connector
	ictx      core.Context
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *claimHandler) handle(msg *sarama.ConsumerMessage) {
	if len(msg.Key) == 0 || !h.connector.InboundPermitted() {
		h.connector.AddStat("messages_skipped", 1)
		return
	}

	id := string(msg.Key)
	switch operation(msg) {
	case "create", "insert":
		h.ictx.ReportElementCreated(id)
	case "delete":
		h.ictx.ReportElementDeleted(id)
	default:
		h.ictx.ReportElementUpdated(id)
	}
	h.connector.AddStat("messages", 1)
}

// operation reads the "operation" header. A tombstone is always a delete.
func operation(msg *sarama.ConsumerMessage) string {
	if msg.Value == nil {
		return "delete"
	}
	for _, hdr := range msg.Headers {
		if hdr != nil && string(hdr.Key) == "operation" {
			return strings.ToLower(string(hdr.Value))
		}
	}
	return "update"
}
