// Package s3 implements a polled connector that catalogues the objects under
// a bucket prefix. Objects are identified by key and versioned by ETag. The
// connector also works against S3 compatible stores (MinIO, R2) through the
// endpoint and force_path_style properties.
package s3

import (
	"context"
	"sync"

	"github.com/ajitpratap0/integrationd/pkg/connector/base"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// ConnectorType is the connection type this package registers
	ConnectorType = "s3-catalogue"
	version       = "1.0.0"
)

type options struct {
	bucket         string
	prefix         string
	region         string
	endpoint       string
	forcePathStyle bool
	pageSize       int32
	accessKeyID    string
	secretKey      string
	sessionToken   string
}

func parseOptions(conn core.Connection) (options, error) {
	opts := options{
		bucket:       conn.StringProperty("bucket", ""),
		prefix:       conn.StringProperty("prefix", ""),
		region:       conn.StringProperty("region", "us-east-1"),
		endpoint:     conn.StringProperty("endpoint", conn.Endpoint.NetworkAddress),
		accessKeyID:  conn.SecuredProperties["access_key_id"],
		secretKey:    conn.SecuredProperties["secret_access_key"],
		sessionToken: conn.SecuredProperties["session_token"],
	}
	if opts.bucket == "" {
		return opts, errors.New(errors.ErrorTypeConfig, "s3-catalogue requires the bucket property")
	}
	if opts.accessKeyID == "" && conn.UserID != "" {
		opts.accessKeyID = conn.UserID
		opts.secretKey = conn.ClearPassword
	}

	var err error
	if opts.forcePathStyle, err = conn.BoolProperty("force_path_style", false); err != nil {
		return opts, errors.Wrap(err, errors.ErrorTypeConfig, "invalid force_path_style")
	}
	pageSize, err := conn.IntProperty("page_size", 1000)
	if err != nil || pageSize < 1 || pageSize > 1000 {
		return opts, errors.New(errors.ErrorTypeConfig, "page_size must be between 1 and 1000")
	}
	opts.pageSize = int32(pageSize)
	return opts, nil
}

// objectClient is the part of *s3.Client the connector uses
type objectClient interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Connector catalogues objects in one bucket
type Connector struct {
	*base.BaseConnector

	opts     options
	connect  func(ctx context.Context, opts options) (objectClient, error)
	snapshot *base.Snapshot

	mu     sync.Mutex
	client objectClient
}

// New is the registry factory for s3-catalogue connections
func New(conn core.Connection) (interface{}, error) {
	opts, err := parseOptions(conn)
	if err != nil {
		return nil, err
	}
	return &Connector{
		BaseConnector: base.NewBaseConnector(ConnectorType, version, conn),
		opts:          opts,
		connect:       newClient,
		snapshot:      base.NewSnapshot(),
	}, nil
}

func newClient(ctx context.Context, opts options) (objectClient, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.region),
	}
	if opts.accessKeyID != "" && opts.secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.accessKeyID, opts.secretKey, opts.sessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS config")
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.endpoint != "" {
			o.BaseEndpoint = aws.String(opts.endpoint)
		}
		o.UsePathStyle = opts.forcePathStyle
	}), nil
}

// Start builds the client and checks the bucket is reachable
func (c *Connector) Start(ctx context.Context) error {
	client, err := c.connect(ctx, c.opts)
	if err != nil {
		return err
	}

	err = base.DefaultRetryPolicy().Execute(ctx, func(ctx context.Context) error {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.opts.bucket)}); err != nil {
			return errors.Wrap(err, errors.ErrorTypeUnavailable, "bucket is not reachable").
				WithDetail("bucket", c.opts.bucket)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.SetStat("bucket", c.opts.bucket)
	c.Logger().Info("s3 catalogue connected",
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
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return errors.New(errors.ErrorTypeRuntime, "s3-catalogue is not started")
	}

	current := make(map[string]string)
	pages := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.opts.bucket),
		Prefix:  aws.String(c.opts.prefix),
		MaxKeys: aws.Int32(c.opts.pageSize),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to list objects").
				WithDetail("bucket", c.opts.bucket)
		}
		for _, obj := range page.Contents {
			current[aws.ToString(obj.Key)] = aws.ToString(obj.ETag)
		}
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

// Disconnect drops the client. The SDK client holds no connections that
// need closing.
func (c *Connector) Disconnect(context.Context) error {
	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()
	c.snapshot.Reset()
	return nil
}
