package tokenvault

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

// FileStore keeps all tokens in a single JSON file keyed by vet id. Meant
// for development; production deployments use the Postgres store.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, vetID domain.VetID) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	tok, ok := all[string(vetID)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &tok, nil
}

func (s *FileStore) Save(ctx context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return err
	}
	all[string(token.VetID)] = token
	return s.writeAll(all)
}

func (s *FileStore) Delete(ctx context.Context, vetID domain.VetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := all[string(vetID)]; !ok {
		return nil
	}
	delete(all, string(vetID))
	return s.writeAll(all)
}

func (s *FileStore) readAll() (map[string]Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	all := map[string]Token{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *FileStore) writeAll(all map[string]Token) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
