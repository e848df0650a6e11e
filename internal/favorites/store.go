// Package favorites implements a persistent favorite-destination store: a
// single Store struct behind a sync.RWMutex guarding an in-memory
// collection, backed by a JSON file (see DESIGN.md for why not a SQL
// store).
package favorites

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/models"
)

type document struct {
	Favorites []models.Favorite `json:"favorites"`
}

// Store is the single-writer/multi-reader favorites collection, persisted
// to a caller-supplied JSON file path on every mutation.
type Store struct {
	mu   sync.RWMutex
	path string
	favs []models.Favorite
}

// Open loads favorites from path. A missing file is equivalent to empty; a
// present-but-unparsable file is fatal.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperrors.Wrap(apperrors.FileIo, "read favorites file", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.Serialization, "parse favorites file", err)
	}
	s.favs = doc.Favorites
	return s, nil
}

func (s *Store) persistLocked() error {
	doc := document{Favorites: s.favs}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.Serialization, "encode favorites", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.FileIo, "write favorites file", err)
	}
	return nil
}

// List returns a snapshot of all favorites.
func (s *Store) List() []models.Favorite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Favorite, len(s.favs))
	copy(out, s.favs)
	return out
}

// Get returns the favorite with the given id, if any.
func (s *Store) Get(id string) (models.Favorite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.favs {
		if f.ID == id {
			return f, true
		}
	}
	return models.Favorite{}, false
}

// Add creates a favorite with a fresh stable id.
func (s *Store) Add(name, address string) (models.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := models.Favorite{
		ID:      newID(),
		Name:    name,
		Address: address,
	}
	s.favs = append(s.favs, f)
	if err := s.persistLocked(); err != nil {
		return models.Favorite{}, err
	}
	return f, nil
}

// Update renames and/or re-addresses a favorite, touching last_used.
func (s *Store) Update(id string, name, address *string) (models.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.favs {
		if s.favs[i].ID != id {
			continue
		}
		if name != nil {
			s.favs[i].Name = *name
		}
		if address != nil {
			s.favs[i].Address = *address
		}
		now := time.Now()
		s.favs[i].LastUsed = &now
		if err := s.persistLocked(); err != nil {
			return models.Favorite{}, err
		}
		return s.favs[i], nil
	}
	return models.Favorite{}, apperrors.New(apperrors.InvalidConfig, fmt.Sprintf("favorite not found: %s", id))
}

// Delete removes a favorite by id. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.favs {
		if s.favs[i].ID == id {
			s.favs = append(s.favs[:i], s.favs[i+1:]...)
			return s.persistLocked()
		}
	}
	return nil
}

// Touch updates last_used for a favorite without changing name/address.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.favs {
		if s.favs[i].ID == id {
			now := time.Now()
			s.favs[i].LastUsed = &now
			return s.persistLocked()
		}
	}
	return apperrors.New(apperrors.InvalidConfig, fmt.Sprintf("favorite not found: %s", id))
}

// UpdateResolvedIP sets last_resolved_ip on every favorite whose address
// equals addressMatch, persisting once regardless of how many matched.
func (s *Store) UpdateResolvedIP(addressMatch, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for i := range s.favs {
		if s.favs[i].Address == addressMatch {
			ipCopy := ip
			s.favs[i].LastResolvedIP = &ipCopy
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked()
}

func newID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	// crypto/rand fallback in case uuid's entropy source is ever exhausted.
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
