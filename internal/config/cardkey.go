package config

import (
	"strings"
	"sync"
)

// CardKeySource describes where the active card key came from.
type CardKeySource string

const (
	CardKeyFromFlag CardKeySource = "flag"
	CardKeyFromEnv  CardKeySource = "environment"
	CardKeyFromFile CardKeySource = "config-file"
	CardKeyMissing  CardKeySource = ""
)

// CardKeyStore owns the card key used to authenticate against the service.
// It is safe for concurrent use.
type CardKeyStore struct {
	mu     sync.RWMutex
	key    string
	source CardKeySource
	path   string
}

// NewCardKeyStore resolves the card key from, in priority order, the flag
// value, the POLISH_CARD_KEY environment variable, and the config file at
// path.
func NewCardKeyStore(flagKey string, environ map[string]string, path string) *CardKeyStore {
	s := &CardKeyStore{path: path}
	if k := strings.TrimSpace(flagKey); k != "" {
		s.key, s.source = k, CardKeyFromFlag
		return s
	}
	envCfg := &Config{}
	_ = envCfg.ApplyEnv(environ)
	envKey := envCfg.CardKey
	if k := strings.TrimSpace(envKey); k != "" {
		s.key, s.source = k, CardKeyFromEnv
		return s
	}
	if cfg, err := LoadFile(path); err == nil && cfg.CardKey != "" {
		s.key, s.source = cfg.CardKey, CardKeyFromFile
	}
	return s
}

// Get returns the current card key, empty when none is known.
func (s *CardKeyStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Source reports where the current key came from.
func (s *CardKeyStore) Source() CardKeySource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Save stores key in memory and persists it to the config file.
func (s *CardKeyStore) Save(key string) error {
	key = strings.TrimSpace(key)
	cfg, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	cfg.CardKey = key
	if err := cfg.Save(s.path); err != nil {
		return err
	}
	s.mu.Lock()
	s.key, s.source = key, CardKeyFromFile
	s.mu.Unlock()
	return nil
}

// Forget drops the card key from memory only.
func (s *CardKeyStore) Forget() {
	s.mu.Lock()
	s.key, s.source = "", CardKeyMissing
	s.mu.Unlock()
}

// Invalidate forgets the card key in memory and removes it from the config
// file. It is called when the service rejects the key.
func (s *CardKeyStore) Invalidate() error {
	s.Forget()

	cfg, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	if cfg.CardKey == "" {
		return nil
	}
	cfg.CardKey = ""
	return cfg.Save(s.path)
}
