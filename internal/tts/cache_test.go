package tts

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  int32
	download int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Download(ctx context.Context, objectPath string) ([]byte, error) {
	atomic.AddInt32(&f.download, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.objects[objectPath]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("object %s does not exist", objectPath)
}

func (f *fakeStore) Upload(ctx context.Context, objectPath string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.objects[objectPath] = data
	f.mu.Unlock()
	atomic.AddInt32(&f.uploads, 1)
	return "https://storage.example.com/" + objectPath, nil
}

func countingSynth(calls *int32, delay time.Duration) SynthFunc {
	return func(ctx context.Context, engine, voice string, speed float64, text string) ([]byte, error) {
		atomic.AddInt32(calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return []byte(engine + voice + text), nil
	}
}

func greetingKey() Key {
	return Key{Role: RoleGreeting, Engine: "openai", Voice: "alloy", Speed: 1.0}
}

func TestObjectNameGrammar(t *testing.T) {
	cache := NewPromptCache(nil, nil, "v2")

	assert.Equal(t, "initial-greeting-openai-alloy-1.ulaw",
		cache.ObjectName(greetingKey(), "hello"))

	fillerName := cache.ObjectName(Key{Role: RoleFiller, Engine: "google", Voice: "en-US-Neural2-C", Speed: 1.1}, "thinking...")
	assert.Regexp(t, `^filler-[0-9a-f]{8}-v2-google-en-US-Neural2-C-1\.1\.ulaw$`, fillerName)

	// Changing the filler text changes the tag and so the object name.
	other := cache.ObjectName(Key{Role: RoleFiller, Engine: "google", Voice: "en-US-Neural2-C", Speed: 1.1}, "other text")
	assert.NotEqual(t, fillerName, other)
}

func TestLookupSynthesizesOnDoubleMiss(t *testing.T) {
	var calls int32
	store := newFakeStore()
	cache := NewPromptCache(countingSynth(&calls, 0), store, "v1")

	b, err := cache.Lookup(context.Background(), greetingKey(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("openaialloyhello"), b)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Second lookup is a memory hit: no new synthesis, no new download.
	downloadsBefore := atomic.LoadInt32(&store.download)
	b2, err := cache.Lookup(context.Background(), greetingKey(), "hello")
	require.NoError(t, err)
	assert.Equal(t, b, b2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, downloadsBefore, atomic.LoadInt32(&store.download))

	// The write-back lands asynchronously.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&store.uploads) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLookupHitsObjectStore(t *testing.T) {
	var calls int32
	store := newFakeStore()
	cache := NewPromptCache(countingSynth(&calls, 0), store, "v1")
	name := cache.ObjectName(greetingKey(), "hello")
	store.objects[name] = []byte("persisted")

	b, err := cache.Lookup(context.Background(), greetingKey(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), b)
	assert.Zero(t, atomic.LoadInt32(&calls), "no synthesis when the object store has the artifact")

	// Now cached in memory.
	peeked, ok := cache.Peek(greetingKey(), "hello")
	assert.True(t, ok)
	assert.Equal(t, []byte("persisted"), peeked)
}

func TestConcurrentMissSingleFlight(t *testing.T) {
	var calls int32
	cache := NewPromptCache(countingSynth(&calls, 50*time.Millisecond), nil, "v1")

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := cache.Lookup(context.Background(), greetingKey(), "hello")
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a concurrent miss must launch exactly one synthesis")
	for _, b := range results {
		assert.Equal(t, results[0], b)
	}
}

func TestPeekDoesNotSynthesize(t *testing.T) {
	var calls int32
	cache := NewPromptCache(countingSynth(&calls, 0), nil, "v1")

	_, ok := cache.Peek(greetingKey(), "hello")
	assert.False(t, ok)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPrimeFillsBothRoles(t *testing.T) {
	var calls int32
	cache := NewPromptCache(countingSynth(&calls, 0), nil, "v1")

	cache.Prime(context.Background(), "openai", "alloy", 1.0, "greeting text", "filler text")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	_, ok := cache.Peek(greetingKey(), "greeting text")
	assert.True(t, ok)
	_, ok = cache.Peek(Key{Role: RoleFiller, Engine: "openai", Voice: "alloy", Speed: 1.0}, "filler text")
	assert.True(t, ok)
}
