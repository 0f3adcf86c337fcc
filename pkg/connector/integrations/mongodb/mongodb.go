// Package mongodb implements a blocking connector that follows a MongoDB
// change stream. Each Engage call waits for one change event and reports the
// affected document as "<collection>/<_id>". The resume token of the last
// handled event is kept so a reopened stream continues where it left off.
package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/connector/base"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	// ConnectorType is the connection type this package registers
	ConnectorType = "mongodb-change-stream"
	version       = "1.0.0"
)

type settings struct {
	uri            string
	database       string
	collections    []string
	username       string
	password       string
	connectTimeout time.Duration
	maxAwaitTime   time.Duration
}

func parseSettings(conn core.Connection) (settings, error) {
	s := settings{
		uri:         conn.SecuredProperties["uri"],
		database:    conn.StringProperty("database", ""),
		collections: conn.StringsProperty("collections"),
		username:    conn.UserID,
		password:    conn.ClearPassword,
	}
	if s.uri == "" {
		s.uri = conn.StringProperty("uri", "")
	}
	if s.uri == "" && conn.Endpoint.NetworkAddress != "" {
		s.uri = "mongodb://" + conn.Endpoint.NetworkAddress
	}
	if s.uri == "" {
		return s, errors.New(errors.ErrorTypeConfig, "mongodb-change-stream requires a uri or an endpoint network address")
	}
	if s.database == "" {
		return s, errors.New(errors.ErrorTypeConfig, "mongodb-change-stream requires the database property")
	}

	var err error
	if s.connectTimeout, err = conn.DurationProperty("connect_timeout", 10*time.Second); err != nil {
		return s, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connect_timeout")
	}
	if s.maxAwaitTime, err = conn.DurationProperty("max_await_time", 30*time.Second); err != nil {
		return s, errors.Wrap(err, errors.ErrorTypeConfig, "invalid max_await_time")
	}
	return s, nil
}

func (s settings) clientOptions() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(s.uri).
		SetAppName("integrationd").
		SetConnectTimeout(s.connectTimeout)
	if s.username != "" {
		opts.SetAuth(options.Credential{Username: s.username, Password: s.password})
	}
	return opts
}

// pipeline restricts the stream to the configured collections
func (s settings) pipeline() mongo.Pipeline {
	if len(s.collections) == 0 {
		return mongo.Pipeline{}
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: s.collections}}}}}},
	}
}

// changeStream is the part of *mongo.ChangeStream the connector uses
type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	Namespace     struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
}

func (e changeEvent) elementID() string {
	var key string
	switch id := e.DocumentKey.ID.(type) {
	case primitive.ObjectID:
		key = id.Hex()
	case nil:
		return ""
	default:
		key = fmt.Sprint(id)
	}
	return e.Namespace.Coll + "/" + key
}

// session is the connected state between Start and Disconnect
type session struct {
	watch      func(ctx context.Context, resumeAfter bson.Raw) (changeStream, error)
	disconnect func(ctx context.Context) error
}

// Connector follows a database change stream
type Connector struct {
	*base.BaseConnector

	settings settings
	connect  func(ctx context.Context, s settings) (*session, error)

	mu          sync.Mutex
	session     *session
	stream      changeStream
	resumeToken bson.Raw
}

// New is the registry factory for mongodb-change-stream connections
func New(conn core.Connection) (interface{}, error) {
	s, err := parseSettings(conn)
	if err != nil {
		return nil, err
	}
	return &Connector{
		BaseConnector: base.NewBaseConnector(ConnectorType, version, conn),
		settings:      s,
		connect:       connectClient,
	}, nil
}

func connectClient(ctx context.Context, s settings) (*session, error) {
	client, err := mongo.Connect(ctx, s.clientOptions())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create mongodb client")
	}

	err = base.DefaultRetryPolicy().Execute(ctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
		if err := client.Ping(pctx, readpref.Primary()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeUnavailable, "mongodb ping failed")
		}
		return nil
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(s.database)
	return &session{
		watch: func(ctx context.Context, resumeAfter bson.Raw) (changeStream, error) {
			opts := options.ChangeStream().SetMaxAwaitTime(s.maxAwaitTime)
			if resumeAfter != nil {
				opts.SetResumeAfter(resumeAfter)
			}
			return db.Watch(ctx, s.pipeline(), opts)
		},
		disconnect: client.Disconnect,
	}, nil
}

// Start connects to the deployment
func (c *Connector) Start(ctx context.Context) error {
	sess, err := c.connect(ctx, c.settings)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.SetStat("database", c.settings.database)
	c.Logger().Info("mongodb change stream connected",
		zap.String("database", c.settings.database),
		zap.Strings("collections", c.settings.collections))
	return nil
}

// Refresh is a no-op: changes arrive through Engage
func (c *Connector) Refresh(context.Context) error {
	return nil
}

// Engage handles the next change event, opening the stream if needed. It
// returns without error when ctx is cancelled while waiting.
func (c *Connector) Engage(ctx context.Context) error {
	ictx, err := c.RequireContext()
	if err != nil {
		return err
	}
	cs, err := c.openStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if !cs.Next(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		streamErr := cs.Err()
		c.closeStream(ctx)
		if streamErr != nil {
			return errors.Wrap(streamErr, errors.ErrorTypeRuntime, "change stream failed")
		}
		return nil
	}

	var ev changeEvent
	if err := cs.Decode(&ev); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to decode change event")
	}
	c.handle(ictx, ev)

	c.mu.Lock()
	if ev.OperationType == "invalidate" {
		c.resumeToken = nil
	} else {
		c.resumeToken = cs.ResumeToken()
	}
	c.mu.Unlock()
	if ev.OperationType == "invalidate" {
		c.closeStream(ctx)
	}
	c.MarkCycle()
	return nil
}

func (c *Connector) handle(ictx core.Context, ev changeEvent) {
	id := ev.elementID()
	if id == "" || !c.InboundPermitted() {
		c.AddStat("events_skipped", 1)
		return
	}
	switch ev.OperationType {
	case "insert":
		ictx.ReportElementCreated(id)
	case "update", "replace":
		ictx.ReportElementUpdated(id)
	case "delete":
		ictx.ReportElementDeleted(id)
	default:
		c.AddStat("events_skipped", 1)
		return
	}
	c.AddStat("events", 1)
}

func (c *Connector) openStream(ctx context.Context) (changeStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return c.stream, nil
	}
	if c.session == nil {
		return nil, errors.New(errors.ErrorTypeRuntime, "mongodb-change-stream is not started")
	}
	cs, err := c.session.watch(ctx, c.resumeToken)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to open change stream").
			WithDetail("database", c.settings.database)
	}
	c.stream = cs
	return cs, nil
}

func (c *Connector) closeStream(ctx context.Context) {
	c.mu.Lock()
	cs := c.stream
	c.stream = nil
	c.mu.Unlock()

	if cs != nil {
		if err := cs.Close(ctx); err != nil {
			c.Logger().Debug("closing change stream", zap.Error(err))
		}
	}
}

// Disconnect closes the stream and the client. The resume token is kept so
// a restarted connector resumes after the last handled event.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.closeStream(ctx)

	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to disconnect from mongodb")
	}
	return nil
}
