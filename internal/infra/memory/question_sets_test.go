package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"million-dialogue/internal/domain"
)

func TestQuestionSetCacheCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionSetLoader: NewStaticQuestionSetLoader(SampleQuestionSets()),
	}
	cache := NewQuestionSetCache(loader, time.Minute)

	if _, err := cache.GetQuestionSet(context.Background(), "general"); err != nil {
		t.Fatalf("get set: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	if _, err := cache.GetQuestionSet(context.Background(), "general"); err != nil {
		t.Fatalf("get set 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}

	cache.invalidate("general")
	if _, err := cache.GetQuestionSet(context.Background(), "general"); err != nil {
		t.Fatalf("get set 3: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionSetCacheExpires(t *testing.T) {
	loader := &countingLoader{
		QuestionSetLoader: NewStaticQuestionSetLoader(SampleQuestionSets()),
	}
	cache := NewQuestionSetCache(loader, time.Minute)
	now := time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	if _, err := cache.GetQuestionSet(context.Background(), "general"); err != nil {
		t.Fatalf("get set: %v", err)
	}
	// beyond ttl plus the maximum 10% jitter
	now = now.Add(2 * time.Minute)
	if _, err := cache.GetQuestionSet(context.Background(), "general"); err != nil {
		t.Fatalf("get set after expiry: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionSetCacheSingleflight(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{
		QuestionSetLoader: NewStaticQuestionSetLoader(SampleQuestionSets()),
		gate:              release,
	}
	cache := NewQuestionSetCache(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetQuestionSet(context.Background(), "general"); err != nil {
				t.Errorf("get set: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load for concurrent readers, got %d", loader.calls.Load())
	}
}

func TestQuestionSetCacheMissing(t *testing.T) {
	cache := NewQuestionSetCache(NewStaticQuestionSetLoader(SampleQuestionSets()), time.Minute)
	_, err := cache.GetQuestionSet(context.Background(), "nope")
	if !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuestionSetCacheRejectsInvalidSets(t *testing.T) {
	broken := domain.QuestionSet{
		ID: "broken",
		Questions: []domain.Question{
			{ID: "q1", Text: "?", Options: []string{"a", "b"}, CorrectIndex: 4},
		},
	}
	cache := NewQuestionSetCache(NewStaticQuestionSetLoader(map[string]domain.QuestionSet{"broken": broken}), time.Minute)
	_, err := cache.GetQuestionSet(context.Background(), "broken")
	if !errors.Is(err, domain.ErrInvalidQuestionSet) {
		t.Fatalf("expected invalid set, got %v", err)
	}
}

func TestFileQuestionSetLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := `sets:
  - id: capitals
    title: Capitals
    questions:
      - id: c1
        text: Capital of France?
        options: [Berlin, Paris, Rome, Madrid]
        correct_index: 1
      - id: c2
        text: Capital of Japan?
        options: [Tokyo, Kyoto, Osaka, Nara]
        correct_index: 0
        difficulty: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	loader, err := NewFileQuestionSetLoader(path)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	set, err := loader.LoadQuestionSet(context.Background(), "capitals")
	if err != nil {
		t.Fatalf("load set: %v", err)
	}
	if len(set.Questions) != 2 || set.Questions[0].CorrectIndex != 1 || set.Questions[1].Difficulty != 2 {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestFileQuestionSetLoaderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := `sets:
  - id: bad
    questions:
      - id: b1
        text: Only one option
        options: [alone]
        correct_index: 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewFileQuestionSetLoader(path); !errors.Is(err, domain.ErrInvalidQuestionSet) {
		t.Fatalf("expected invalid set error, got %v", err)
	}
}

func TestSampleQuestionSetsAreValid(t *testing.T) {
	for id, set := range SampleQuestionSets() {
		if err := set.Validate(); err != nil {
			t.Fatalf("sample set %s: %v", id, err)
		}
	}
}

type countingLoader struct {
	QuestionSetLoader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.QuestionSetLoader.LoadQuestionSet(ctx, setID)
}
