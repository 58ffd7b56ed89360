package authzcache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process backend. Reads take the read lock only; a janitor
// goroutine sweeps expired entries so the map stays bounded between TTLs.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	subjects map[string]int64
	scopes   map[int64]int64
	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemory constructs the backend. sweep is the janitor interval; it
// defaults to one minute.
func NewMemory(sweep time.Duration) *Memory {
	if sweep <= 0 {
		sweep = time.Minute
	}
	m := &Memory{
		entries:  make(map[string]memoryEntry),
		subjects: make(map[string]int64),
		scopes:   make(map[int64]int64),
		stop:     make(chan struct{}),
	}
	go m.janitor(sweep)
	return m
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string, dest any) (bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(e.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{payload: payload, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Purge implements Store.
func (m *Memory) Purge(ctx context.Context, match func(key string) bool) (int, error) {
	if match == nil {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.entries {
		if match(key) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Keys implements Store. Results are sorted for stable introspection output.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]KeyInfo, error) {
	now := time.Now()
	m.mu.RLock()
	infos := make([]KeyInfo, 0, len(m.entries))
	for key, e := range m.entries {
		if !strings.HasPrefix(key, prefix) || now.After(e.expiresAt) {
			continue
		}
		infos = append(infos, KeyInfo{Key: key, TTL: e.expiresAt.Sub(now)})
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PrincipalEpoch implements Epochs.
func (m *Memory) PrincipalEpoch(ctx context.Context, subjectID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subjects[subjectID], nil
}

// ScopeEpochs implements Epochs.
func (m *Memory) ScopeEpochs(ctx context.Context, ids []int64) ([]int64, error) {
	epochs := make([]int64, len(ids))
	m.mu.RLock()
	for i, id := range ids {
		epochs[i] = m.scopes[id]
	}
	m.mu.RUnlock()
	return epochs, nil
}

// BumpPrincipal implements Epochs.
func (m *Memory) BumpPrincipal(ctx context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[subjectID]++
	return m.subjects[subjectID], nil
}

// BumpScope implements Epochs.
func (m *Memory) BumpScope(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[id]++
	return m.scopes[id], nil
}
