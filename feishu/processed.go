package feishu

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultProcessedPath is where seen message IDs are persisted.
const DefaultProcessedPath = ".orchestrator/feishu_seen_messages.json"

// ProcessedStore deduplicates webhook deliveries by message ID. The set is
// persisted as a sorted JSON list so restarts do not replay messages.
type ProcessedStore struct {
	path string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore loads the seen set from path. A missing or corrupt
// file starts empty.
func NewProcessedStore(path string) *ProcessedStore {
	if path == "" {
		path = DefaultProcessedPath
	}
	s := &ProcessedStore{
		path: path,
		seen: make(map[string]struct{}),
	}
	s.load()
	return s
}

// Contains reports whether the message ID was already processed.
func (s *ProcessedStore) Contains(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok
}

// Add marks a message ID as processed and persists the set.
func (s *ProcessedStore) Add(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[messageID]; ok {
		return nil
	}
	s.seen[messageID] = struct{}{}
	return s.persist()
}

func (s *ProcessedStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return
	}
	for _, id := range ids {
		s.seen[id] = struct{}{}
	}
}

func (s *ProcessedStore) persist() error {
	ids := make([]string, 0, len(s.seen))
	for id := range s.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seen messages: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create seen messages dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write seen messages: %w", err)
	}
	return nil
}
