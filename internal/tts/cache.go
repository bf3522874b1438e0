package tts

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"sync"

	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
)

// Role names the fixed-text cache entries.
type Role string

const (
	RoleGreeting Role = "greeting"
	RoleFiller   Role = "filler"
)

// Key identifies one pre-rendered audio artifact.
type Key struct {
	Role   Role
	Engine string
	Voice  string
	Speed  float64
}

// ObjectStore is the persistence tier behind the memory cache.
type ObjectStore interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
	Upload(ctx context.Context, objectPath string, content io.Reader) (string, error)
}

// SynthFunc renders text to mu-law on a cache miss.
type SynthFunc func(ctx context.Context, engine, voice string, speed float64, text string) ([]byte, error)

// PromptCache is the two-tier (memory + object store) cache for the fixed
// greeting and filler audio. Misses are single-flight per key: a concurrent
// miss never launches two synthesis jobs for the same artifact. The memory
// tier is populated immediately after synthesis; the object-store write-back
// is fire-and-forget.
type PromptCache struct {
	synth         SynthFunc
	store         ObjectStore // may be nil
	fillerVersion string

	mu       sync.Mutex
	mem      map[string][]byte
	keyLocks map[string]*sync.Mutex
}

// NewPromptCache creates a cache. store may be nil, leaving only the memory
// tier and direct synthesis.
func NewPromptCache(synth SynthFunc, store ObjectStore, fillerVersion string) *PromptCache {
	return &PromptCache{
		synth:         synth,
		store:         store,
		fillerVersion: fillerVersion,
		mem:           make(map[string][]byte),
		keyLocks:      make(map[string]*sync.Mutex),
	}
}

// ObjectName renders the persisted object name for a key. The filler name
// carries a short text tag plus the configured version so changing the
// filler wording invalidates cleanly.
func (c *PromptCache) ObjectName(key Key, text string) string {
	speed := strconv.FormatFloat(key.Speed, 'f', -1, 64)
	switch key.Role {
	case RoleFiller:
		return fmt.Sprintf("filler-%s-%s-%s-%s-%s.ulaw",
			textTag(text), c.fillerVersion, key.Engine, key.Voice, speed)
	default:
		return fmt.Sprintf("initial-greeting-%s-%s-%s.ulaw", key.Engine, key.Voice, speed)
	}
}

// Peek returns a memory-tier hit without touching the object store or the
// synthesizer. Used by the greeting fast path, which must not block on the
// per-call binding lookup when a pre-rendered default exists.
func (c *PromptCache) Peek(key Key, text string) ([]byte, bool) {
	name := c.ObjectName(key, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.mem[name]
	return b, ok
}

// Lookup resolves a key: memory, then object store, then synthesize-now.
func (c *PromptCache) Lookup(ctx context.Context, key Key, text string) ([]byte, error) {
	name := c.ObjectName(key, text)

	c.mu.Lock()
	if b, ok := c.mem[name]; ok {
		c.mu.Unlock()
		return b, nil
	}
	lock, ok := c.keyLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[name] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// A concurrent miss may have filled the entry while we waited.
	c.mu.Lock()
	if b, ok := c.mem[name]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	if c.store != nil {
		if b, err := c.store.Download(ctx, name); err == nil && len(b) > 0 {
			c.put(name, b)
			return b, nil
		}
	}

	b, err := c.synth(ctx, key.Engine, key.Voice, key.Speed, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", name, err)
	}
	c.put(name, b)

	if c.store != nil {
		data := b
		gopool.Go(func() {
			if _, err := c.store.Upload(context.Background(), name, bytes.NewReader(data)); err != nil {
				logger.Base().Warn("cache write-back failed", zap.String("object", name), zap.Error(err))
			}
		})
	}
	return b, nil
}

// Prime renders the default-config greeting and filler so the first call
// takes the fast path.
func (c *PromptCache) Prime(ctx context.Context, engine, voice string, speed float64, greetingText, fillerText string) {
	for _, entry := range []struct {
		key  Key
		text string
	}{
		{Key{Role: RoleGreeting, Engine: engine, Voice: voice, Speed: speed}, greetingText},
		{Key{Role: RoleFiller, Engine: engine, Voice: voice, Speed: speed}, fillerText},
	} {
		if _, err := c.Lookup(ctx, entry.key, entry.text); err != nil {
			logger.Base().Warn("cache prime failed",
				zap.String("role", string(entry.key.Role)),
				zap.Error(err))
		}
	}
}

func (c *PromptCache) put(name string, b []byte) {
	c.mu.Lock()
	c.mem[name] = b
	c.mu.Unlock()
}

// textTag is a short stable tag over the filler wording.
func textTag(text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%08x", h.Sum32())
}
