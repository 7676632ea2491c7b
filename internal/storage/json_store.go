package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
)

// File names inside the data directory.
const (
	DiscoveryStateFile = "discovery-state.json"
	ProgramsFile       = "scraped-programs-latest.json"
	snapshotPrefix     = "scraped-programs-"
	snapshotDayLayout  = "2006-01-02"
)

// writeJSON replaces path with the indented encoding of v. The document is
// written to a temp file first so readers never see a partial write.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON decodes path into v. It reports false when the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// DiscoveryStore persists discovery state as a single JSON document keyed by
// institution name.
type DiscoveryStore struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex
}

// NewDiscoveryStore creates a store at dataDir/discovery-state.json.
func NewDiscoveryStore(dataDir string, log *logger.Logger) *DiscoveryStore {
	if log == nil {
		log = logger.Default()
	}
	return &DiscoveryStore{
		path: filepath.Join(dataDir, DiscoveryStateFile),
		log:  log.WithComponent("discovery-store"),
	}
}

// Path returns the document path.
func (s *DiscoveryStore) Path() string { return s.path }

// All returns the whole document. A missing or corrupt document is empty.
func (s *DiscoveryStore) All() DiscoveryStateCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *DiscoveryStore) readLocked() DiscoveryStateCache {
	cache := DiscoveryStateCache{}
	if _, err := readJSON(s.path, &cache); err != nil {
		s.log.WithError(err).Error("discovery state unreadable, starting empty")
		return DiscoveryStateCache{}
	}
	return cache
}

// Load returns the state for one institution, or an empty state.
func (s *DiscoveryStore) Load(institution string) InstitutionDiscoveryState {
	state, ok := s.All()[institution]
	if !ok {
		return NewDiscoveryState()
	}
	if state.ExploredSections == nil {
		state.ExploredSections = []ExploredSection{}
	}
	if state.KnownURLs == nil {
		state.KnownURLs = []string{}
	}
	if state.UnscrapedURLs == nil {
		state.UnscrapedURLs = []string{}
	}
	return state
}

// Save replaces one institution's entry and rewrites the whole document.
func (s *DiscoveryStore) Save(institution string, state InstitutionDiscoveryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache := s.readLocked()
	cache[institution] = state
	if err := writeJSON(s.path, cache); err != nil {
		return err
	}
	s.log.Debug("saved discovery state",
		"institution", institution,
		"known", len(state.KnownURLs),
		"unscraped", len(state.UnscrapedURLs),
	)
	return nil
}

// Clear empties the document.
func (s *DiscoveryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.path, DiscoveryStateCache{}); err != nil {
		return err
	}
	s.log.Info("cleared all discovery state")
	return nil
}

// ProgramStore persists scraped programs as a single JSON document, plus
// dated snapshots.
type ProgramStore struct {
	dir   string
	path  string
	log   *logger.Logger
	mu    sync.Mutex
	Clock func() time.Time
}

// NewProgramStore creates a store at dataDir/scraped-programs-latest.json.
func NewProgramStore(dataDir string, log *logger.Logger) *ProgramStore {
	if log == nil {
		log = logger.Default()
	}
	return &ProgramStore{
		dir:   dataDir,
		path:  filepath.Join(dataDir, ProgramsFile),
		log:   log.WithComponent("program-store"),
		Clock: time.Now,
	}
}

// Path returns the document path.
func (s *ProgramStore) Path() string { return s.path }

// Load returns all stored programs. A missing or corrupt document is empty.
func (s *ProgramStore) Load() []ScrapedProgram {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc ProgramsDocument
	if _, err := readJSON(s.path, &doc); err != nil {
		s.log.WithError(err).Error("programs document unreadable, starting empty")
		return nil
	}
	return doc.Programs
}

// Save overwrites the document with programs and returns the encoded bytes.
func (s *ProgramStore) Save(programs []ScrapedProgram) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if programs == nil {
		programs = []ScrapedProgram{}
	}
	doc := ProgramsDocument{
		Timestamp:     s.Clock().UTC(),
		TotalPrograms: len(programs),
		Programs:      programs,
	}
	if err := writeJSON(s.path, doc); err != nil {
		return nil, err
	}
	s.log.Info("saved programs", "count", len(programs), "path", s.path)
	return json.MarshalIndent(doc, "", "  ")
}

// SaveSnapshot writes a dated copy of the current document.
func (s *ProgramStore) SaveSnapshot(programs []ScrapedProgram) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.Clock().UTC()
	path := filepath.Join(s.dir, snapshotPrefix+day.Format(snapshotDayLayout)+".json")
	doc := ProgramsDocument{Timestamp: day, TotalPrograms: len(programs), Programs: programs}
	if err := writeJSON(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// Snapshots lists dated snapshot files, oldest first.
func (s *ProgramStore) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list data dir: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == ProgramsFile || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), ".json")
		if _, err := time.Parse(snapshotDayLayout, day); err != nil {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// PruneSnapshots removes all but the newest keep snapshots and returns the
// removed paths.
func (s *ProgramStore) PruneSnapshots(keep int) ([]string, error) {
	snaps, err := s.Snapshots()
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	var removed []string
	for _, p := range snaps[:len(snaps)-keep] {
		if err := os.Remove(p); err != nil {
			return removed, fmt.Errorf("failed to remove snapshot: %w", err)
		}
		removed = append(removed, p)
	}
	s.log.Info("pruned snapshots", "removed", len(removed), "kept", keep)
	return removed, nil
}
