package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

// ErrNotFound is returned when a named secret does not exist.
var ErrNotFound = errors.New("secret not found")

// storeFile is the on-disk layout: key-derivation metadata in the clear,
// every secret value sealed as a Fernet token.
type storeFile struct {
	Master  MasterKeyMeta     `json:"master"`
	Secrets map[string]string `json:"secrets"`
}

// Store is an encrypted named-secret store persisted to a single JSON file.
// It is safe for concurrent use.
type Store struct {
	path string
	key  *MasterKey

	mu      sync.RWMutex
	master  MasterKeyMeta
	secrets map[string]string
}

// Create initializes a new store at path protected by password. It fails if
// the file already exists.
func Create(path, password string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store already exists at %s", path)
	}

	key, meta, err := NewMasterKey(password)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:    path,
		key:     key,
		master:  meta,
		secrets: make(map[string]string),
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing store, verifying the password before any secret is
// touched. A wrong password returns ErrWrongPassword.
func Open(path, password string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	var file storeFile
	if err := sonic.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}

	key, err := DeriveMasterKey(password, file.Master)
	if err != nil {
		return nil, err
	}

	if file.Secrets == nil {
		file.Secrets = make(map[string]string)
	}
	return &Store{
		path:    path,
		key:     key,
		master:  file.Master,
		secrets: file.Secrets,
	}, nil
}

// OpenOrCreate opens the store when the file exists, otherwise creates it.
func OpenOrCreate(path, password string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return Open(path, password)
	}
	return Create(path, password)
}

// Set seals value under name and persists the store. Empty values are legal;
// an empty string round-trips as an empty string.
func (s *Store) Set(name, value string) error {
	token, err := s.key.Encrypt([]byte(value))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = token
	return s.save()
}

// Get opens the secret stored under name.
func (s *Store) Get(name string) (string, error) {
	s.mu.RLock()
	token, ok := s.secrets[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	plain, err := s.key.Decrypt(token)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Has reports whether a secret exists under name.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[name]
	return ok
}

// Delete removes the secret under name and persists the store. Deleting a
// missing name is a no-op.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[name]; !ok {
		return nil
	}
	delete(s.secrets, name)
	return s.save()
}

// DeletePrefix removes every secret whose name starts with prefix and
// persists the store. It returns the number of secrets removed.
func (s *Store) DeletePrefix(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for name := range s.secrets {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			delete(s.secrets, name)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}

// Names returns the sorted names of all stored secrets.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// save writes the store atomically: temp file in the same directory, fsync,
// rename. Caller holds the write lock.
func (s *Store) save() error {
	file := storeFile{Master: s.master, Secrets: s.secrets}
	data, err := sonic.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
