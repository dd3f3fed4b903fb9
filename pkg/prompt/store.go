package prompt

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Store holds named prompts loaded from a directory. A missing directory is
// not an error; the store simply starts empty.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	prompts map[string]string
}

// NewStore creates a store and performs the initial load.
func NewStore(dir string, logger zerolog.Logger) *Store {
	s := &Store{
		dir:     dir,
		logger:  logger,
		prompts: make(map[string]string),
	}
	if err := s.Reload(); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("Failed to load prompt directory")
	}
	return s
}

// Get returns the prompt stored under key. Lookup is case-insensitive.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prompt, ok := s.prompts[strings.ToLower(key)]
	return prompt, ok
}

// Keys returns the loaded prompt names in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.prompts))
	for key := range s.prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of loaded prompts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prompts)
}

// Dir returns the directory the store loads from.
func (s *Store) Dir() string {
	return s.dir
}

// Reload re-reads the prompt directory, replacing the loaded set.
func (s *Store) Reload() error {
	loaded := make(map[string]string)

	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Warn().Str("dir", s.dir).Msg("Prompt directory does not exist; starting empty")
				s.swap(loaded)
				return nil
			}
			return err
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			ext := strings.ToLower(filepath.Ext(name))
			if ext != ".md" && ext != ".txt" {
				continue
			}

			data, err := os.ReadFile(filepath.Join(s.dir, name))
			if err != nil {
				s.logger.Warn().Err(err).Str("file", name).Msg("Failed to read prompt file")
				continue
			}

			key := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
			loaded[key] = strings.TrimSpace(string(data))
		}
	}

	s.swap(loaded)
	s.logger.Debug().Int("count", len(loaded)).Str("dir", s.dir).Msg("Prompts loaded")
	return nil
}

func (s *Store) swap(prompts map[string]string) {
	s.mu.Lock()
	s.prompts = prompts
	s.mu.Unlock()
}
