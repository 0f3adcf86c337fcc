package registration

import (
	"context"
	"strings"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/json"
	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the registrations of a group in two keys: a sorted set
// of connector ids, all scored 0 so they sort lexically, and a hash from
// connector id to JSON document.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the server at url
func OpenRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "redis registration store requires redis_url")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to parse redis url")
	}

	client := redis.NewClient(opts)
	if err := connectWithRetry(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisStore(client, prefix), nil
}

// NewRedisStore wraps a connected client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "integrationd"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) idsKey(group string) string {
	return s.prefix + ":group:" + group + ":ids"
}

func (s *RedisStore) bodiesKey(group string) string {
	return s.prefix + ":group:" + group + ":registrations"
}

// ListRegistrations implements Store
func (s *RedisStore) ListRegistrations(ctx context.Context, group string, startFrom, pageSize int) ([]config.ConnectorConfig, error) {
	if err := validatePage(group, startFrom, pageSize); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRange(ctx, s.idsKey(group), int64(startFrom), int64(startFrom+pageSize-1)).Result()
	if err != nil {
		return nil, mapRedisError(err, "list registration ids")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodies, err := s.client.HMGet(ctx, s.bodiesKey(group), ids...).Result()
	if err != nil {
		return nil, mapRedisError(err, "read registrations")
	}

	regs := make([]config.ConnectorConfig, 0, len(bodies))
	for i, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			// id without a body: deleted between the two reads
			continue
		}
		var reg config.ConnectorConfig
		if err := json.Unmarshal([]byte(body), &reg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decode registration").
				WithDetail("connector_id", ids[i])
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// GetRegistration implements Store
func (s *RedisStore) GetRegistration(ctx context.Context, group, connectorID string) (*config.ConnectorConfig, error) {
	if err := validateKey(group, connectorID); err != nil {
		return nil, err
	}

	body, err := s.client.HGet(ctx, s.bodiesKey(group), connectorID).Bytes()
	if err == redis.Nil {
		return nil, notFound(group, connectorID)
	}
	if err != nil {
		return nil, mapRedisError(err, "get registration")
	}

	var reg config.ConnectorConfig
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decode registration").
			WithDetail("connector_id", connectorID)
	}
	return &reg, nil
}

// PutRegistration implements Store
func (s *RedisStore) PutRegistration(ctx context.Context, group string, reg config.ConnectorConfig) error {
	if err := validateKey(group, reg.ConnectorID); err != nil {
		return err
	}
	body, err := json.Marshal(reg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode registration")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.idsKey(group), &redis.Z{Score: 0, Member: reg.ConnectorID})
		pipe.HSet(ctx, s.bodiesKey(group), reg.ConnectorID, body)
		return nil
	})
	if err != nil {
		return mapRedisError(err, "put registration")
	}
	return nil
}

// DeleteRegistration implements Store
func (s *RedisStore) DeleteRegistration(ctx context.Context, group, connectorID string) error {
	if err := validateKey(group, connectorID); err != nil {
		return err
	}

	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.idsKey(group), connectorID)
		removed = pipe.HDel(ctx, s.bodiesKey(group), connectorID)
		return nil
	})
	if err != nil {
		return mapRedisError(err, "delete registration")
	}
	if removed.Val() == 0 {
		return notFound(group, connectorID)
	}
	return nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func mapRedisError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, op)
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"), strings.HasPrefix(msg, "NOPERM"):
		return errors.Wrap(err, errors.ErrorTypePermission, op)
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return errors.Wrap(err, errors.ErrorTypeConfig, op)
	}

	// dial failures, redis.ErrClosed, pool timeouts
	return errors.Wrap(err, errors.ErrorTypeUnavailable, op)
}
