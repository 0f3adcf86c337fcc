// Package gcs implements a polled connector that catalogues the objects
// under a Google Cloud Storage bucket prefix. Objects are identified by name
// and versioned by generation and metageneration, so both content rewrites
// and metadata edits are reported as updates.
package gcs

import (
	"context"
	"strconv"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/integrationd/pkg/connector/base"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	// ConnectorType is the connection type this package registers
	ConnectorType = "gcs-catalogue"
	version       = "1.0.0"
)

type options struct {
	bucket          string
	prefix          string
	credentialsFile string
	credentialsJSON string
	endpoint        string
}

func parseOptions(conn core.Connection) (options, error) {
	opts := options{
		bucket:          conn.StringProperty("bucket", ""),
		prefix:          conn.StringProperty("prefix", ""),
		credentialsFile: conn.StringProperty("credentials_file", ""),
		credentialsJSON: conn.SecuredProperties["credentials_json"],
		endpoint:        conn.StringProperty("endpoint", conn.Endpoint.NetworkAddress),
	}
	if opts.bucket == "" {
		return opts, errors.New(errors.ErrorTypeConfig, "gcs-catalogue requires the bucket property")
	}
	if opts.credentialsFile != "" && opts.credentialsJSON != "" {
		return opts, errors.New(errors.ErrorTypeConfig, "set either credentials_file or the credentials_json secured property, not both")
	}
	return opts, nil
}

func (o options) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case o.credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(o.credentialsFile))
	case o.credentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(o.credentialsJSON)))
	}
	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts
}

// catalogue lists object versions in a bucket
type catalogue interface {
	Check(ctx context.Context, bucket string) error
	Versions(ctx context.Context, bucket, prefix string) (map[string]string, error)
	Close() error
}

// storageCatalogue is the catalogue backed by the Cloud Storage client
type storageCatalogue struct {
	client *storage.Client
}

func (s *storageCatalogue) Check(ctx context.Context, bucket string) error {
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	return err
}

func (s *storageCatalogue) Versions(ctx context.Context, bucket, prefix string) (map[string]string, error) {
	q := &storage.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name", "Generation", "Metageneration"}); err != nil {
		return nil, err
	}

	out := make(map[string]string)
	it := s.client.Bucket(bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out[attrs.Name] = objectVersion(attrs.Generation, attrs.Metageneration)
	}
}

func (s *storageCatalogue) Close() error {
	return s.client.Close()
}

func objectVersion(generation, metageneration int64) string {
	return strconv.FormatInt(generation, 10) + "." + strconv.FormatInt(metageneration, 10)
}

// Connector catalogues objects in one bucket
type Connector struct {
	*base.BaseConnector

	opts     options
	connect  func(ctx context.Context, opts options) (catalogue, error)
	snapshot *base.Snapshot

	mu  sync.Mutex
	cat catalogue
}

// New is the registry factory for gcs-catalogue connections
func New(conn core.Connection) (interface{}, error) {
	opts, err := parseOptions(conn)
	if err != nil {
		return nil, err
	}
	return &Connector{
		BaseConnector: base.NewBaseConnector(ConnectorType, version, conn),
		opts:          opts,
		connect: func(ctx context.Context, opts options) (catalogue, error) {
			client, err := storage.NewClient(ctx, opts.clientOptions()...)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create storage client")
			}
			return &storageCatalogue{client: client}, nil
		},
		snapshot: base.NewSnapshot(),
	}, nil
}

// Start creates the client and checks the bucket
func (c *Connector) Start(ctx context.Context) error {
	cat, err := c.connect(ctx, c.opts)
	if err != nil {
		return err
	}

	err = base.DefaultRetryPolicy().Execute(ctx, func(ctx context.Context) error {
		if err := cat.Check(ctx, c.opts.bucket); err != nil {
			if errors.Is(err, storage.ErrBucketNotExist) {
				return errors.Wrap(err, errors.ErrorTypeConfig, "bucket does not exist").
					WithDetail("bucket", c.opts.bucket)
			}
			return errors.Wrap(err, errors.ErrorTypeUnavailable, "bucket is not reachable").
				WithDetail("bucket", c.opts.bucket)
		}
		return nil
	})
	if err != nil {
		_ = cat.Close()
		return err
	}

	c.mu.Lock()
	c.cat = cat
	c.mu.Unlock()

	c.SetStat("bucket", c.opts.bucket)
	c.Logger().Info("gcs catalogue connected",
		zap.String("bucket", c.opts.bucket),
		zap.String("prefix", c.opts.prefix))
	return nil
}

// Refresh lists the prefix and reports object changes
func (c *Connector) Refresh(ctx context.Context) error {
	ictx, err := c.RequireContext()
	if err != nil {
		return err
	}
	if !c.InboundPermitted() {
		return nil
	}

	c.mu.Lock()
	cat := c.cat
	c.mu.Unlock()
	if cat == nil {
		return errors.New(errors.ErrorTypeRuntime, "gcs-catalogue is not started")
	}

	current, err := cat.Versions(ctx, c.opts.bucket, c.opts.prefix)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to list objects").
			WithDetail("bucket", c.opts.bucket)
	}

	changes := c.snapshot.Apply(current)
	changes.Report(ictx)

	c.AddStat("objects_created", int64(len(changes.Created)))
	c.AddStat("objects_updated", int64(len(changes.Updated)))
	c.AddStat("objects_deleted", int64(len(changes.Deleted)))
	c.SetStat("objects", len(current))
	c.MarkCycle()
	return nil
}

// Disconnect closes the storage client
func (c *Connector) Disconnect(context.Context) error {
	c.mu.Lock()
	cat := c.cat
	c.cat = nil
	c.mu.Unlock()

	c.snapshot.Reset()
	if cat == nil {
		return nil
	}
	if err := cat.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to close storage client")
	}
	return nil
}
