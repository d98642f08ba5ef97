// Package auth guards the local status API with bearer tokens read from a
// file that operators can edit while the player runs.
package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"pi-signage/internal/watch"
)

// TokenStore holds the accepted status API tokens. One token per line; blank
// lines and lines starting with '#' are ignored.
type TokenStore struct {
	file    string
	logger  zerolog.Logger
	watcher *watch.Watcher

	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewTokenStore loads filePath and reloads it whenever it changes.
func NewTokenStore(filePath string, debounce time.Duration, logger zerolog.Logger) (*TokenStore, error) {
	s := &TokenStore{
		file:   filepath.Clean(filePath),
		logger: logger.With().Str("component", "token_store").Logger(),
		tokens: make(map[string]struct{}),
	}

	if err := s.refresh(); err != nil {
		return nil, err
	}

	// Editors replace files on save, so the directory is what gets watched.
	watcher, err := watch.Dir(filepath.Dir(s.file), debounce, s.concerns, s.refresh, s.logger)
	if err != nil {
		return nil, err
	}
	s.watcher = watcher
	return s, nil
}

// Close stops watching the token file.
func (s *TokenStore) Close() error {
	return s.watcher.Close()
}

// IsValidToken reports whether the provided token is authorized.
func (s *TokenStore) IsValidToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// Count returns how many tokens are loaded.
func (s *TokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *TokenStore) concerns(event fsnotify.Event) bool {
	return filepath.Clean(event.Name) == s.file
}

func (s *TokenStore) refresh() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		data = nil
		s.logger.Warn().Str("file", s.file).Msg("token file missing; status API locked")
	}

	tokens := parseTokens(data)

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	s.logger.Debug().Int("tokens", len(tokens)).Msg("status tokens loaded")
	return nil
}

func parseTokens(data []byte) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		token := strings.TrimSpace(line)
		if token == "" || strings.HasPrefix(token, "#") {
			continue
		}
		tokens[token] = struct{}{}
	}
	return tokens
}
