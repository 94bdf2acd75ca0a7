package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

var (
	// ErrStorageUnavailable is returned when the data directory cannot be read or written.
	ErrStorageUnavailable = errors.New("profile: storage unavailable")
	// ErrTemplateMissing is returned when a new profile must be created but no seed template exists.
	ErrTemplateMissing = errors.New("profile: template missing")
)

// Store keeps one JSON file per card UID in a directory.
type Store struct {
	dir      string
	template string
	layout   mifare.Layout
	logger   *slog.Logger
}

// Handle addresses a stored profile.
type Handle struct {
	UID     string
	Path    string
	Created bool // true if Resolve seeded the file from the template

	store *Store
}

// NewStore returns a store rooted at dir that seeds new profiles from templatePath.
func NewStore(dir, templatePath string, layout mifare.Layout, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, template: templatePath, layout: layout, logger: logger}
}

// Resolve returns the handle of uid's profile, creating and persisting it from
// the template on first encounter. An existing file is never re-seeded.
func (s *Store) Resolve(uid mifare.UID) (*Handle, error) {
	if len(uid) == 0 {
		return nil, fmt.Errorf("resolve profile: empty UID")
	}
	h := &Handle{
		UID:   uid.String(),
		Path:  filepath.Join(s.dir, uid.String()+".json"),
		store: s,
	}

	info, err := os.Stat(h.Path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", ErrStorageUnavailable, h.Path)
	case err == nil:
		s.logger.Debug("profile exists", "uid", h.UID, "path", h.Path)
		return h, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	p, err := s.seed(h.UID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := s.Save(h, p); err != nil {
		return nil, err
	}
	h.Created = true
	s.logger.Debug("profile created from template", "uid", h.UID, "path", h.Path, "template", s.template)
	return h, nil
}

func (s *Store) seed(uid string) (*Profile, error) {
	data, err := os.ReadFile(s.template)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, s.template)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read template: %w", ErrStorageUnavailable, err)
	}
	tmpl, err := Unmarshal(data, s.layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s unusable: %w", ErrTemplateMissing, s.template, err)
	}
	// The template is a shape, not data: start from empty slots whatever it holds.
	p := New(uid, tmpl.Layout)
	return p, nil
}

// Load reads the profile addressed by h.
func (s *Store) Load(h *Handle) (*Profile, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	p, err := Unmarshal(data, s.layout)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", h.Path, err)
	}
	if p.UID != h.UID {
		return nil, fmt.Errorf("load %s: %w: UID %q does not match %q", h.Path, ErrInvalidProfile, p.UID, h.UID)
	}
	return p, nil
}

// Save writes p to a temporary file in the same directory and renames it over
// the profile, so a crash never leaves a truncated document behind.
func (s *Store) Save(h *Handle, p *Profile) error {
	data, err := Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", h.UID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.Path), filepath.Base(h.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %w", ErrStorageUnavailable, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %w", ErrStorageUnavailable, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %w", ErrStorageUnavailable, tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod %s: %w", ErrStorageUnavailable, tmpName, err)
	}
	if err := os.Rename(tmpName, h.Path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename to %s: %w", ErrStorageUnavailable, h.Path, err)
	}
	s.logger.Debug("profile saved", "uid", h.UID, "path", h.Path)
	return nil
}

// Load reads the profile addressed by h.
func (h *Handle) Load() (*Profile, error) { return h.store.Load(h) }

// Save persists p to the location addressed by h.
func (h *Handle) Save(p *Profile) error { return h.store.Save(h, p) }
