package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"million-dialogue/internal/domain"
	"million-dialogue/internal/infra/memory"
)

// QuestionSetCache caches question sets in Redis as JSON and falls back to a loader on cache miss.
// Sets are stored as: SET qset:{setID} {json} EX ttl
type QuestionSetCache struct {
	client *redis.Client
	loader memory.QuestionSetLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionSetCache(client *redis.Client, loader memory.QuestionSetLoader, ttl time.Duration) *QuestionSetCache {
	return &QuestionSetCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetQuestionSet implements app.QuestionBank.
func (c *QuestionSetCache) GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := c.cached(ctx, setID); ok {
		return set, nil
	}

	result, err, _ := c.sf.Do(setID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if set, ok := c.cached(ctx, setID); ok {
			return set, nil
		}

		set, err := c.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		if err := set.Validate(); err != nil {
			return domain.QuestionSet{}, err
		}

		if payload, err := json.Marshal(set); err == nil {
			// best-effort; a failed write only costs another load
			_ = c.client.Set(ctx, questionSetKey(setID), payload, c.ttlWithJitter()).Err()
		}
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// Invalidate drops the cached copy of a set.
func (c *QuestionSetCache) Invalidate(ctx context.Context, setID string) error {
	return c.client.Del(ctx, questionSetKey(setID)).Err()
}

func (c *QuestionSetCache) cached(ctx context.Context, setID string) (domain.QuestionSet, bool) {
	raw, err := c.client.Get(ctx, questionSetKey(setID)).Bytes()
	if err != nil {
		return domain.QuestionSet{}, false
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, false
	}
	return set, true
}

func questionSetKey(setID string) string {
	return "qset:" + setID
}

func (c *QuestionSetCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
