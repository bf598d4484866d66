// Package ticket caches access tickets per (environment, credential,
// service) and serializes their acquisition across workers.
package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lotefact/lotefact/internal/arca/domain"
)

// ErrNotCached is returned when no ticket has been stored for a scope.
var ErrNotCached = errors.New("ticket_not_cached")

// Store persists one ticket per scope as a JSON file under a directory
// keyed by environment and credential. The directory may live on a shared
// filesystem; writes are atomic (temp file + rename).
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(creds domain.Credentials, service string) string {
	return filepath.Join(s.dir, string(creds.Environment), creds.TaxID, service+".json")
}

// Load returns the cached ticket for the scope, or ErrNotCached.
func (s *Store) Load(creds domain.Credentials, service string) (domain.AccessTicket, error) {
	raw, err := os.ReadFile(s.path(creds, service))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.AccessTicket{}, ErrNotCached
		}
		return domain.AccessTicket{}, fmt.Errorf("ticket store: read: %w", err)
	}
	var t domain.AccessTicket
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.AccessTicket{}, fmt.Errorf("ticket store: decode: %w", err)
	}
	return t, nil
}

// Save writes the ticket for the scope, replacing any previous one.
func (s *Store) Save(creds domain.Credentials, service string, t domain.AccessTicket) error {
	path := s.path(creds, service)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("ticket store: mkdir: %w", err)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("ticket store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ta-*")
	if err != nil {
		return fmt.Errorf("ticket store: temp: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("ticket store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ticket store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ticket store: rename: %w", err)
	}
	return nil
}
