// Package history persists completed transcripts with optional at-rest
// encryption and a fixed retention window.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"murmur/internal/domain"
	"murmur/internal/secretbox"
)

// RetentionWindow is how long entries are kept before pruning.
const RetentionWindow = 30 * 24 * time.Hour

// DecryptFailurePlaceholder replaces fields that can no longer be decrypted.
const DecryptFailurePlaceholder = "[could not decrypt]"

// storedEntry is the on-disk form of one history entry. Raw and Processed
// hold ciphertext when Encrypted is set, UTF-8 plaintext bytes otherwise.
type storedEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Raw       []byte    `json:"raw"`
	Processed []byte    `json:"processed"`
	Encrypted bool      `json:"encrypted"`
}

// Store keeps a newest-first transcript history in a single JSON file.
type Store struct {
	mu       sync.Mutex
	path     string
	box      secretbox.Box
	enabled  bool
	onChange func()
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore creates a history store writing to path.
func NewStore(path string, box secretbox.Box, enabled bool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:    path,
		box:     box,
		enabled: enabled,
		now:     time.Now,
		logger:  logger,
	}
}

// OnChange registers a callback fired after every append or clear.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetEnabled toggles recording of new entries. Existing entries are kept.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Enabled reports whether new entries are being recorded.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Append inserts a new entry at the head of the list and prunes expired
// entries. It is a no-op while history is disabled. Encryption failures
// degrade to plaintext storage rather than dropping the entry.
func (s *Store) Append(raw, processed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil
	}

	entries, err := s.load()
	if err != nil {
		return err
	}

	entry := storedEntry{
		Timestamp: s.now().UTC(),
		Raw:       []byte(raw),
		Processed: []byte(processed),
	}
	if s.box != nil && s.box.Available() {
		sealedRaw, rawErr := s.box.Seal(raw)
		sealedProcessed, processedErr := s.box.Seal(processed)
		if rawErr == nil && processedErr == nil {
			entry.Raw = sealedRaw
			entry.Processed = sealedProcessed
			entry.Encrypted = true
		} else {
			s.logger.Warn("history encryption failed, storing plaintext",
				zap.NamedError("raw", rawErr), zap.NamedError("processed", processedErr))
		}
	}

	entries = append([]storedEntry{entry}, entries...)
	if err := s.save(s.prune(entries)); err != nil {
		return err
	}

	s.notify()
	return nil
}

// List returns pruned, decrypted entries newest-first. A decryption failure
// on an individual entry substitutes a placeholder for that entry only.
func (s *Store) List() ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	pruned := s.prune(entries)
	if len(pruned) != len(entries) {
		if err := s.save(pruned); err != nil {
			s.logger.Warn("persist pruned history", zap.Error(err))
		}
	}

	out := make([]domain.HistoryEntry, 0, len(pruned))
	for _, entry := range pruned {
		out = append(out, s.decode(entry))
	}
	return out, nil
}

// Clear replaces the stored list with an empty one.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(nil); err != nil {
		return err
	}

	s.notify()
	return nil
}

// decode converts one stored entry into its plaintext form.
func (s *Store) decode(entry storedEntry) domain.HistoryEntry {
	out := domain.HistoryEntry{
		Timestamp: entry.Timestamp,
		Encrypted: entry.Encrypted,
	}

	if !entry.Encrypted {
		out.RawText = string(entry.Raw)
		out.ProcessedText = string(entry.Processed)
		return out
	}

	raw, rawErr := s.open(entry.Raw)
	processed, processedErr := s.open(entry.Processed)
	if rawErr != nil || processedErr != nil {
		s.logger.Warn("history decryption failed",
			zap.Time("timestamp", entry.Timestamp),
			zap.NamedError("raw", rawErr), zap.NamedError("processed", processedErr))
		out.RawText = DecryptFailurePlaceholder
		out.ProcessedText = DecryptFailurePlaceholder
		return out
	}

	out.RawText = raw
	out.ProcessedText = processed
	return out
}

// open decrypts one field through the configured box.
func (s *Store) open(ciphertext []byte) (string, error) {
	if s.box == nil {
		return "", fmt.Errorf("no secret box configured")
	}
	return s.box.Open(ciphertext)
}

// prune drops entries older than the retention window and keeps order
// newest-first.
func (s *Store) prune(entries []storedEntry) []storedEntry {
	cutoff := s.now().UTC().Add(-RetentionWindow)

	kept := make([]storedEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.After(kept[j].Timestamp)
	})
	return kept
}

// load reads the stored list, treating a missing file as empty history.
func (s *Store) load() ([]storedEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []storedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// save writes the stored list with owner-only permissions.
func (s *Store) save(entries []storedEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// notify fires the change callback outside of error paths.
func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// NewStoreForTests creates a store with an injectable clock.
func NewStoreForTests(path string, box secretbox.Box, enabled bool, now func() time.Time) *Store {
	store := NewStore(path, box, enabled, zap.NewNop())
	store.now = now
	return store
}
