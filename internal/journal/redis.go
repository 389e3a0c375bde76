package journal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// appendScript appends ARGV[2..] to the list when its length still equals ARGV[1]
var appendScript = redis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
local expected = tonumber(ARGV[1])
if expected >= 0 and n ~= expected then
	return 0
end
for i = 2, #ARGV do
	redis.call('RPUSH', KEYS[1], ARGV[i])
end
return 1
`)

// Redis stores the journal as a Redis list
type Redis struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedis creates a journal over an existing client. The caller keeps ownership
// of the client.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

// DialRedis connects to Redis and creates a journal that owns the connection
func DialRedis(ctx context.Context, addr, password string, db int, key string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Debug().Str("addr", addr).Str("key", key).Msg("Connected to redis journal")
	return &Redis{client: client, key: key, owned: true}, nil
}

// Read implements Backend; the cursor is the list length already read
func (r *Redis) Read(ctx context.Context, cursor int64) ([][]byte, int64, error) {
	values, err := r.client.LRange(ctx, r.key, cursor, -1).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to read redis journal: %w", err)
	}

	records := make([][]byte, len(values))
	for i, v := range values {
		records[i] = []byte(v)
	}
	return records, cursor + int64(len(values)), nil
}

// Append implements Backend
func (r *Redis) Append(ctx context.Context, expected int64, records ...[]byte) (bool, error) {
	if len(records) == 0 {
		return true, nil
	}

	args := make([]interface{}, 0, len(records)+1)
	args = append(args, expected)
	for _, rec := range records {
		args = append(args, string(rec))
	}

	ok, err := appendScript.Run(ctx, r.client, []string{r.key}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to append to redis journal: %w", err)
	}
	return ok == 1, nil
}

// Delete removes the journal key
func (r *Redis) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete redis journal: %w", err)
	}
	return nil
}

// Close implements Backend
func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
