package profile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nlink_desk/internal/shared/logger"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileInUse    = errors.New("the current profile cannot be removed")
	ErrLastProfile     = errors.New("the last profile cannot be removed")
	ErrNotRemote       = errors.New("profile has no remote origin")
	ErrDuplicateID     = errors.New("profile id already exists")
)

// State is everything the store persists.
type State struct {
	Profiles  []Profile `json:"profiles"`
	CurrentID string    `json:"currentId"`
}

// Storage persists the store's State.
type Storage interface {
	// Load returns the saved state, or nil when nothing has been saved yet.
	Load() (*State, error)
	Save(state *State) error
	Close() error
}

// CurrentListener is notified after the current profile changes, including content
// edits to the current profile.
type CurrentListener interface {
	OnCurrentProfileChanged(p Profile)
}

// Store owns the profile list and the single current pointer. Reads of the current
// profile are lock-free; every write persists before it becomes visible.
type Store struct {
	storage Storage
	now     func() time.Time
	log     zerolog.Logger

	mu        sync.RWMutex // guards profiles and listeners, serialises writes
	profiles  []Profile
	listeners []CurrentListener

	current atomic.Value // Profile
}

// Open loads the store from storage. When nothing is stored yet a local default
// profile is created and made current, so there is always exactly one current profile.
func Open(storage Storage) (*Store, error) {
	s := &Store{
		storage: storage,
		now:     time.Now,
		log:     logger.WithComponent("Profiles"),
	}

	state, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	dirty := false
	if state == nil || len(state.Profiles) == 0 {
		def := NewLocalDefault(s.now())
		state = &State{Profiles: []Profile{def}, CurrentID: def.ID}
		s.log.Warn().Msg("No stored profiles, created the local default profile.")
		dirty = true
	}
	if indexOf(state.Profiles, state.CurrentID) < 0 {
		s.log.Warn().Str("current", state.CurrentID).Msg("Current profile missing, falling back to the first profile.")
		state.CurrentID = state.Profiles[0].ID
		dirty = true
	}
	if dirty {
		if err := storage.Save(state); err != nil {
			return nil, fmt.Errorf("failed to write initial profiles: %w", err)
		}
	}

	s.profiles = state.Profiles
	s.current.Store(state.Profiles[indexOf(state.Profiles, state.CurrentID)])
	s.log.Info().Int("count", len(s.profiles)).Str("current", state.CurrentID).Msg("Profiles loaded.")
	return s, nil
}

// Close closes the underlying storage.
func (s *Store) Close() error {
	return s.storage.Close()
}

// Register adds a listener for current-profile changes.
func (s *Store) Register(l CurrentListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Current returns a snapshot of the current profile.
func (s *Store) Current() Profile {
	return s.current.Load().(Profile)
}

// List returns all profiles in insertion order.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.profiles)
}

// Get returns the profile with the given id.
func (s *Store) Get(id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := indexOf(s.profiles, id)
	if i < 0 {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return s.profiles[i], nil
}

// Add stores a new profile. It does not change the current selection.
func (s *Store) Add(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if indexOf(s.profiles, p.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	next := append(slices.Clone(s.profiles), p)
	if err := s.commit(next, s.Current().ID); err != nil {
		return err
	}
	s.log.Info().Str("id", p.ID).Str("name", p.Name).Str("origin", string(p.Origin.Kind)).Msg("Profile added.")
	return nil
}

// UpdateContent replaces the content of a profile.
func (s *Store) UpdateContent(id, content string) (Profile, error) {
	return s.mutate(id, func(p *Profile) { p.ReplaceContent(content, s.now()) })
}

// Refresh re-downloads a remote profile and replaces its content. The id, name and
// creation time are kept.
func (s *Store) Refresh(ctx context.Context, id string, fetcher *Fetcher) (Profile, error) {
	p, err := s.Get(id)
	if err != nil {
		return Profile{}, err
	}
	if p.Origin.Kind != OriginRemote || p.Origin.URL == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotRemote, id)
	}
	fetched, err := fetcher.FetchRemote(ctx, p.Origin.URL)
	if err != nil {
		return Profile{}, err
	}
	return s.UpdateContent(id, fetched.Content)
}

// Remove deletes a profile. The current profile and the last remaining profile cannot
// be removed.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.profiles, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if len(s.profiles) == 1 {
		return ErrLastProfile
	}
	if s.Current().ID == id {
		return ErrProfileInUse
	}
	next := slices.Delete(slices.Clone(s.profiles), i, i+1)
	if err := s.commit(next, s.Current().ID); err != nil {
		return err
	}
	s.log.Info().Str("id", id).Msg("Profile removed.")
	return nil
}

// SetCurrent makes the profile with the given id current.
func (s *Store) SetCurrent(id string) (Profile, error) {
	s.mu.Lock()
	i := indexOf(s.profiles, id)
	if i < 0 {
		s.mu.Unlock()
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if err := s.commit(s.profiles, id); err != nil {
		s.mu.Unlock()
		return Profile{}, err
	}
	p := s.profiles[i]
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.log.Info().Str("id", p.ID).Str("name", p.Name).Msg("Current profile changed.")
	go s.notify(listeners, p)
	return p, nil
}

func (s *Store) mutate(id string, fn func(p *Profile)) (Profile, error) {
	s.mu.Lock()
	i := indexOf(s.profiles, id)
	if i < 0 {
		s.mu.Unlock()
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	next := slices.Clone(s.profiles)
	fn(&next[i])
	currentID := s.Current().ID
	if err := s.commit(next, currentID); err != nil {
		s.mu.Unlock()
		return Profile{}, err
	}
	p := next[i]
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if id == currentID {
		go s.notify(listeners, p)
	}
	return p, nil
}

// commit persists the new state, then publishes it. Caller holds s.mu.
func (s *Store) commit(profiles []Profile, currentID string) error {
	if err := s.storage.Save(&State{Profiles: profiles, CurrentID: currentID}); err != nil {
		return fmt.Errorf("failed to save profiles: %w", err)
	}
	s.profiles = profiles
	s.current.Store(profiles[indexOf(profiles, currentID)])
	return nil
}

func (s *Store) notify(listeners []CurrentListener, p Profile) {
	if len(listeners) == 0 {
		return
	}
	s.log.Debug().Str("id", p.ID).Int("listeners", len(listeners)).Msg("Notifying listeners of current profile change.")
	for _, l := range listeners {
		l.OnCurrentProfileChanged(p)
	}
}

func indexOf(profiles []Profile, id string) int {
	return slices.IndexFunc(profiles, func(p Profile) bool { return p.ID == id })
}

// OpenStorage picks the storage backend by kind: "file" (default) or "sqlite".
func OpenStorage(kind, path string) (Storage, error) {
	switch kind {
	case "", "file":
		return NewFileStorage(path), nil
	case "sqlite":
		return OpenSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown profile storage %q", kind)
	}
}
