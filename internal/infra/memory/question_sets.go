package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"million-dialogue/internal/domain"
)

// QuestionSetLoader fetches question sets from a backing store (file, Postgres, ...).
type QuestionSetLoader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// QuestionSetCache caches question sets with TTL to avoid repeated backing store hits.
type QuestionSetCache struct {
	loader QuestionSetLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewQuestionSetCache(loader QuestionSetLoader, ttl time.Duration) *QuestionSetCache {
	return &QuestionSetCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

// GetQuestionSet implements app.QuestionBank.
func (c *QuestionSetCache) GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := c.lookup(setID); ok {
		return set, nil
	}

	result, err, _ := c.sf.Do(setID, func() (interface{}, error) {
		if set, ok := c.lookup(setID); ok {
			return set, nil
		}

		set, err := c.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		if err := set.Validate(); err != nil {
			return domain.QuestionSet{}, err
		}

		c.mu.Lock()
		c.cache[setID] = cachedSet{
			set:       set,
			expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
		}
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// invalidate drops a cached set so the next read reloads it.
func (c *QuestionSetCache) invalidate(setID string) {
	c.mu.Lock()
	delete(c.cache, setID)
	c.mu.Unlock()
}

func (c *QuestionSetCache) lookup(setID string) (domain.QuestionSet, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.cache[setID]; ok && entry.expiresAt.After(now) {
		return entry.set, true
	}
	return domain.QuestionSet{}, false
}

func (c *QuestionSetCache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionSetLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionSetLoader struct {
	sets map[string]domain.QuestionSet
}

func NewStaticQuestionSetLoader(sets map[string]domain.QuestionSet) *StaticQuestionSetLoader {
	return &StaticQuestionSetLoader{sets: sets}
}

func (l *StaticQuestionSetLoader) LoadQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, fmt.Errorf("%w: %s", domain.ErrQuestionSetNotFound, setID)
}

// questionFile is the YAML layout shared by questions.file and the seed command.
type questionFile struct {
	Sets []domain.QuestionSet `yaml:"sets"`
}

// ReadQuestionFile parses and validates every set in a YAML question file.
func ReadQuestionFile(path string) ([]domain.QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question file: %w", err)
	}
	for _, set := range file.Sets {
		if err := set.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Sets, nil
}

// NewFileQuestionSetLoader loads a YAML question file once and serves it from memory.
func NewFileQuestionSetLoader(path string) (*StaticQuestionSetLoader, error) {
	sets, err := ReadQuestionFile(path)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.QuestionSet, len(sets))
	for _, set := range sets {
		byID[set.ID] = set
	}
	return NewStaticQuestionSetLoader(byID), nil
}

// SampleQuestionSets is the built-in content served when no file or database is configured.
func SampleQuestionSets() map[string]domain.QuestionSet {
	general := domain.QuestionSet{
		ID:    "general",
		Title: "General knowledge",
		Questions: []domain.Question{
			{ID: "g1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectIndex: 1, Difficulty: 1},
			{ID: "g2", Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Jupiter", "Mars", "Mercury"}, CorrectIndex: 2, Difficulty: 1},
			{ID: "g3", Text: "How many continents are there?", Options: []string{"5", "6", "7", "8"}, CorrectIndex: 2, Difficulty: 1},
			{ID: "g4", Text: "What is the chemical symbol for gold?", Options: []string{"Au", "Ag", "Gd", "Go"}, CorrectIndex: 0, Difficulty: 2},
			{ID: "g5", Text: "Which ocean is the largest?", Options: []string{"Atlantic", "Indian", "Arctic", "Pacific"}, CorrectIndex: 3, Difficulty: 1},
			{ID: "g6", Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "7", "8"}, CorrectIndex: 1, Difficulty: 1},
			{ID: "g7", Text: "What is the boiling point of water at sea level in Celsius?", Options: []string{"90", "100", "110", "120"}, CorrectIndex: 1, Difficulty: 1},
			{ID: "g8", Text: "Which gas do plants absorb from the air?", Options: []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Helium"}, CorrectIndex: 2, Difficulty: 2},
			{ID: "g9", Text: "What is 9 x 7?", Options: []string{"56", "63", "72", "81"}, CorrectIndex: 1, Difficulty: 2},
			{ID: "g10", Text: "Which is the smallest prime number?", Options: []string{"0", "1", "2", "3"}, CorrectIndex: 2, Difficulty: 2},
		},
	}
	return map[string]domain.QuestionSet{general.ID: general}
}
