package asyncqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/models"
)

const defaultKeyPrefix = "agentchat:async:"

// Redis is a Queue backed by one Redis list per conversation. Entries are
// pushed with RPUSH and drained with LRANGE+DEL inside MULTI so a drain
// never loses or duplicates an entry enqueued concurrently.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis queue. An empty prefix selects the default.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (q *Redis) key(contextID string) string {
	return q.prefix + contextID
}

// Enqueue appends resp to the conversation's list.
func (q *Redis) Enqueue(ctx context.Context, contextID string, resp models.AsyncToolResponse) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode async response: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key(contextID), b).Err(); err != nil {
		return fmt.Errorf("enqueue async response for %s: %w", contextID, err)
	}
	return nil
}

// Drain atomically reads and deletes the conversation's list. Entries that
// do not decode are logged and moved to the dead-letter list; the rest are
// returned.
func (q *Redis) Drain(ctx context.Context, contextID string) ([]models.AsyncToolResponse, error) {
	key := q.key(contextID)
	pipe := q.rdb.TxPipeline()
	rng := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain async responses for %s: %w", contextID, err)
	}

	raw := rng.Val()
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]models.AsyncToolResponse, 0, len(raw))
	var bad []interface{}
	for i, entry := range raw {
		var resp models.AsyncToolResponse
		if err := json.Unmarshal([]byte(entry), &resp); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "skipping undecodable async response"},
				log.KV{K: "context_id", V: contextID}, log.KV{K: "index", V: i})
			bad = append(bad, entry)
			continue
		}
		out = append(out, resp)
	}
	if len(bad) > 0 {
		if err := q.rdb.RPush(ctx, q.DeadLetterKey(contextID), bad...).Err(); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "dead-letter push failed"}, log.KV{K: "context_id", V: contextID})
		}
	}
	return out, nil
}

// DeadLetterKey is the list holding entries of contextID that Drain could
// not decode.
func (q *Redis) DeadLetterKey(contextID string) string {
	return q.prefix + "dead:" + contextID
}
