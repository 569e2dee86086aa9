package sink

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// upsertScript applies the merge contract to one row hash.
// KEYS[1] is the row hash, KEYS[2] the set of known identities.
// ARGV follows models.Columns.
var upsertScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  redis.call('HSET', key,
    'uuid', ARGV[1], 'elem_type', ARGV[2], 'prefix', ARGV[3],
    'as_path', ARGV[4], 'asn', ARGV[5], 'next_hop', ARGV[6],
    'peer_ip', ARGV[7], 'min_timestamp', ARGV[8], 'max_timestamp', ARGV[9],
    'count', ARGV[10], 'start_ip', ARGV[11], 'end_ip', ARGV[12])
else
  redis.call('HINCRBY', key, 'count', ARGV[10])
  local mn = tonumber(redis.call('HGET', key, 'min_timestamp'))
  if mn == nil or tonumber(ARGV[8]) < mn then
    redis.call('HSET', key, 'min_timestamp', ARGV[8])
  end
  local mx = tonumber(redis.call('HGET', key, 'max_timestamp'))
  if mx == nil or tonumber(ARGV[9]) > mx then
    redis.call('HSET', key, 'max_timestamp', ARGV[9])
  end
end
redis.call('SADD', KEYS[2], ARGV[1])
return redis.call('HGET', key, 'count')
`)

// RedisUpsert keeps one hash per row identity under a key prefix.
// Each row is merged atomically on the server; a batch is not.
type RedisUpsert struct {
	mu     sync.Mutex
	client *redis.Client
	prefix string
}

// NewRedisUpsert connects to url and loads the merge script.
func NewRedisUpsert(ctx context.Context, url, prefix string) (*RedisUpsert, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, &models.ConfigError{Field: "sink.redis.url", Msg: err.Error()}
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, &models.ConfigError{Field: "sink.redis.url", Msg: "ping: " + err.Error()}
	}
	if err := upsertScript.Load(pingCtx, client).Err(); err != nil {
		client.Close()
		return nil, &models.SchemaError{Sink: "redis-upsert", Err: errors.Wrap(err, "load merge script")}
	}

	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bgpagg"
	}
	return &RedisUpsert{client: client, prefix: prefix}, nil
}

func (s *RedisUpsert) rowKey(id string) string { return s.prefix + ":row:" + id }
func (s *RedisUpsert) indexKey() string       { return s.prefix + ":rows" }

// PersistBatch pipelines one script call per row and reports the rows
// the server rejected.
func (s *RedisUpsert) PersistBatch(ctx context.Context, rows []models.AggregateRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pipe := s.client.Pipeline()
	cmds := make([]*redis.Cmd, len(rows))
	for i := range rows {
		if rows[i].Count > math.MaxInt64 {
			continue
		}
		values := rowValues(&rows[i])
		args := make([]interface{}, len(values))
		for j, v := range values {
			args[j] = v
		}
		cmds[i] = upsertScript.EvalSha(ctx, pipe, []string{s.rowKey(rows[i].UUID), s.indexKey()}, args...)
	}
	// Exec reports only the first failure; rows are checked one by one below.
	_, execErr := pipe.Exec(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	i := 0
	err := persistRows(ctx, "redis-upsert", rows, func(row *models.AggregateRow) error {
		cmd := cmds[i]
		i++
		if cmd == nil {
			return models.ErrCountOverflow
		}
		return cmd.Err()
	})
	if err == nil && execErr != nil && !errors.Is(execErr, redis.Nil) {
		return errors.Wrap(execErr, "redis-upsert pipeline")
	}
	return err
}

// Get reads back a stored row.
func (s *RedisUpsert) Get(ctx context.Context, id string) (models.AggregateRow, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.rowKey(id)).Result()
	if err != nil {
		return models.AggregateRow{}, false, err
	}
	if len(fields) == 0 {
		return models.AggregateRow{}, false, nil
	}
	row, err := rowFromFields(fields)
	return row, err == nil, err
}

func (s *RedisUpsert) Close() error {
	return s.client.Close()
}
