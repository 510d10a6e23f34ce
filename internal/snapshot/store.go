package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/settings"
)

const fileExt = ".snap"

// ErrNotFound is returned when no snapshot has the requested id.
var ErrNotFound = errors.New("snapshot not found")

// Info describes a stored snapshot without its values.
type Info struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Values    int
}

// Store keeps snapshots as files in one directory.
type Store struct {
	dir string
	log zerolog.Logger
	now func() time.Time

	mu sync.Mutex
}

// NewStore creates a store in dir, creating the directory if needed.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create snapshot dir %s", dir)
	}
	return &Store{
		dir: dir,
		log: log.With().Str("component", "snapshot").Logger(),
		now: time.Now,
	}, nil
}

// Dir returns the directory holding the snapshots.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.Wrapf(ErrNotFound, "invalid id %q", id)
	}
	return filepath.Join(s.dir, id+fileExt), nil
}

// Save stores prefs under a new id.
func (s *Store) Save(name string, prefs *settings.Preferences) (*Snapshot, error) {
	if prefs == nil {
		prefs = settings.NewPreferences()
	}
	snap := &Snapshot{
		ID:          uuid.NewString(),
		Name:        name,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
		Preferences: prefs,
	}
	raw, err := Encode(snap)
	if err != nil {
		return nil, err
	}

	path, _ := s.path(snap.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return nil, errors.Wrapf(err, "write snapshot %s", snap.ID)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrapf(err, "commit snapshot %s", snap.ID)
	}

	s.log.Info().Str("id", snap.ID).Str("name", name).Int("values", prefs.Len()).Msg("snapshot saved")
	return snap, nil
}

// Load reads a snapshot by id.
func (s *Store) Load(id string) (*Snapshot, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, id)
		}
		return nil, errors.Wrapf(err, "read snapshot %s", id)
	}
	snap, err := Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", id)
	}
	return snap, nil
}

// List returns the stored snapshots, newest first. Unreadable files are
// logged and skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.dir)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		snap, err := s.Load(id)
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping snapshot")
			continue
		}
		out = append(out, Info{
			ID:        snap.ID,
			Name:      snap.Name,
			CreatedAt: snap.CreatedAt,
			Values:    snap.Preferences.Len(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Latest returns the newest snapshot.
func (s *Store) Latest() (*Snapshot, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}
	return s.Load(infos[0].ID)
}

// Delete removes a snapshot.
func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrNotFound, id)
		}
		return errors.Wrapf(err, "delete snapshot %s", id)
	}
	s.log.Info().Str("id", id).Msg("snapshot deleted")
	return nil
}
