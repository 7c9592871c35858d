// Package role manages the assistant personas a session can speak as. Roles
// live in a single JSON file; the default role seeds every new session's
// system prompt and voice, and the change-role intent switches between them
// mid-conversation.
package role

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no role has the requested id.
	ErrNotFound = errors.New("role not found")

	// ErrDefaultRole is returned when deleting the default role. Mark another
	// role as default first.
	ErrDefaultRole = errors.New("the default role cannot be deleted")

	// ErrInvalid wraps validation failures on create and update.
	ErrInvalid = errors.New("invalid role")
)

// Role is one assistant persona.
type Role struct {
	// ID identifies the role. Assigned by the store on create.
	ID string `json:"id,omitempty"`

	// Name is the spoken name the role is addressed by. The prompt may
	// reference it as {{assistant_name}}.
	Name string `json:"name"`

	// Description is a short human-readable summary.
	Description string `json:"description,omitempty"`

	// Prompt is the system prompt sessions adopt when speaking as this role.
	Prompt string `json:"prompt"`

	// Voice is the synthesis voice id for this role.
	Voice string `json:"voice,omitempty"`

	// IsDefault marks the role new sessions start with. Exactly one role is
	// default whenever any roles exist.
	IsDefault bool `json:"is_default,omitempty"`
}

// fileEnvelope is the on-disk format the store writes. Reads also accept a
// bare {id: role} map from before the envelope existed.
type fileEnvelope struct {
	Roles         map[string]Role `json:"roles"`
	DefaultRoleID string          `json:"default_role_id,omitempty"`
}

// Store is the file-backed role collection. All methods are safe for
// concurrent use; every mutation is persisted before it returns.
type Store struct {
	mu        sync.Mutex
	path      string
	roles     map[string]Role
	defaultID string
}

// Open loads the role file at path. A missing file yields an empty store;
// the file is created on the first mutation.
func Open(path string) (*Store, error) {
	s := &Store{path: path, roles: make(map[string]Role)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("role: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var env fileEnvelope
	if uerr := json.Unmarshal(data, &env); uerr != nil || env.Roles == nil {
		// Bare {id: role} map from the pre-envelope format.
		var bare map[string]Role
		if berr := json.Unmarshal(data, &bare); berr != nil {
			return nil, fmt.Errorf("role: parse %s: %w", path, berr)
		}
		env = fileEnvelope{Roles: bare}
	}

	for id, r := range env.Roles {
		r.ID = id
		s.roles[id] = r
	}
	s.defaultID = s.pickDefault(env.DefaultRoleID)
	s.applyDefaultFlag()
	return s, nil
}

// pickDefault resolves the default role id after a load. Preference order:
// the envelope's default_role_id, a role flagged is_default, the first role
// by name. Must be called with s.mu held (or before the store is shared).
func (s *Store) pickDefault(envDefault string) string {
	if _, ok := s.roles[envDefault]; ok {
		return envDefault
	}
	ids := s.sortedIDs()
	for _, id := range ids {
		if s.roles[id].IsDefault {
			return id
		}
	}
	if len(ids) > 0 {
		slog.Warn("role: no default marked in file, choosing one", "path", s.path, "role", s.roles[ids[0]].Name)
		return ids[0]
	}
	return ""
}

// applyDefaultFlag makes the in-memory IsDefault flags agree with defaultID.
// Must be called with s.mu held.
func (s *Store) applyDefaultFlag() {
	for id, r := range s.roles {
		r.IsDefault = id == s.defaultID
		s.roles[id] = r
	}
}

// sortedIDs returns the role ids ordered by role name, then id. Must be
// called with s.mu held.
func (s *Store) sortedIDs() []string {
	ids := make([]string, 0, len(s.roles))
	for id := range s.roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.roles[ids[i]], s.roles[ids[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return ids
}

// save writes the envelope format. Must be called with s.mu held.
func (s *Store) save() error {
	env := fileEnvelope{Roles: s.roles, DefaultRoleID: s.defaultID}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("role: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("role: create data dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("role: write %s: %w", s.path, err)
	}
	return nil
}

// List returns all roles ordered by name.
func (s *Store) List() []Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, id := range s.sortedIDs() {
		out = append(out, s.roles[id])
	}
	return out
}

// Get returns the role with the given id.
func (s *Store) Get(id string) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	return r, ok
}

// ByName finds a role by case-insensitive name match. Used by the
// change-role intent, which receives the name as the model heard it.
func (s *Store) ByName(name string) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSpace(name)
	for _, id := range s.sortedIDs() {
		if strings.EqualFold(s.roles[id].Name, name) {
			return s.roles[id], true
		}
	}
	return Role{}, false
}

// Default returns the default role. ok is false only while the store holds
// no roles at all.
func (s *Store) Default() (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[s.defaultID]
	return r, ok
}

// Create validates r, assigns it an id, and persists it. The first role ever
// created becomes the default automatically.
func (s *Store) Create(r Role) (Role, error) {
	if err := validate(r); err != nil {
		return Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	if len(s.roles) == 0 || r.IsDefault {
		s.defaultID = r.ID
	}
	s.roles[r.ID] = r
	s.applyDefaultFlag()

	if err := s.save(); err != nil {
		delete(s.roles, r.ID)
		s.defaultID = s.pickDefault("")
		s.applyDefaultFlag()
		return Role{}, err
	}
	return s.roles[r.ID], nil
}

// Update replaces the role with the given id. Marking it default moves the
// default; unmarking the current default is ignored, since some role must
// hold it.
func (s *Store) Update(id string, r Role) (Role, error) {
	if err := validate(r); err != nil {
		return Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("role: update %q: %w", id, ErrNotFound)
	}

	r.ID = id
	if r.IsDefault {
		s.defaultID = id
	}
	s.roles[id] = r
	s.applyDefaultFlag()

	if err := s.save(); err != nil {
		s.roles[id] = prev
		s.defaultID = s.pickDefault(s.defaultID)
		s.applyDefaultFlag()
		return Role{}, err
	}
	return s.roles[id], nil
}

// Delete removes the role with the given id. The default role cannot be
// deleted.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.roles[id]
	if !ok {
		return fmt.Errorf("role: delete %q: %w", id, ErrNotFound)
	}
	if id == s.defaultID {
		return fmt.Errorf("role: delete %q: %w", id, ErrDefaultRole)
	}

	delete(s.roles, id)
	if err := s.save(); err != nil {
		s.roles[id] = prev
		return err
	}
	return nil
}

// SetDefault marks the role with the given id as the default.
func (s *Store) SetDefault(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("role: set default %q: %w", id, ErrNotFound)
	}

	prev := s.defaultID
	s.defaultID = id
	s.applyDefaultFlag()

	if err := s.save(); err != nil {
		s.defaultID = prev
		s.applyDefaultFlag()
		return err
	}
	return nil
}

// validate checks the caller-supplied fields of a role.
func validate(r Role) error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalid))
	}
	if strings.TrimSpace(r.Prompt) == "" {
		errs = append(errs, fmt.Errorf("%w: prompt is required", ErrInvalid))
	}
	return errors.Join(errs...)
}
