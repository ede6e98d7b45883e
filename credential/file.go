package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStore persists the pair as YAML. With a passphrase the document is
// sealed (see seal) before it touches disk.
type FileStore struct {
	path       string
	passphrase string

	mu   sync.RWMutex
	pair Pair
}

var _ Store = (*FileStore)(nil)

type fileDocument struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

// OpenFileStore loads path if it exists. A missing file yields an empty store.
func OpenFileStore(path, passphrase string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credential: empty store path")
	}
	s := &FileStore{path: path, passphrase: strings.TrimSpace(passphrase)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if s.passphrase != "" {
		if raw, err = open(s.passphrase, raw); err != nil {
			return nil, fmt.Errorf("credential: decrypt %s: %w", path, err)
		}
	} else if isSealed(raw) {
		return nil, fmt.Errorf("credential: %s is encrypted: %w", path, ErrPassphraseRequired)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("credential: parse %s: %w", path, err)
	}
	s.pair = Pair{AccessToken: doc.AccessToken, RefreshToken: doc.RefreshToken}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) AccessToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken, nil
}

func (s *FileStore) RefreshToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken, nil
}

// Save writes the pair to disk before making it visible to readers.
func (s *FileStore) Save(_ context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(p); err != nil {
		return err
	}
	s.pair = p
	return nil
}

func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.pair = Pair{}
	return nil
}

func (s *FileStore) write(p Pair) error {
	data, err := yaml.Marshal(fileDocument{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return err
	}
	if s.passphrase != "" {
		if data, err = seal(s.passphrase, data); err != nil {
			return err
		}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
