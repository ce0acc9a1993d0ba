package codestore

import (
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/language"
)

const keyPrefix = "code:"

// Store maps (problem, language) pairs to source text.
type Store struct {
	logger  *zap.Logger
	persist Persistence
	mu      sync.RWMutex
	records map[string]map[language.Language]string
	// unsynced holds problems whose persisted record could not be read.
	// Their in-memory record is partial and must not overwrite persistence.
	unsynced map[string]bool
}

// New creates a Store. A nil persist keeps records in memory only.
func New(logger *zap.Logger, persist Persistence) *Store {
	return &Store{
		logger:  logger,
		persist: persist,
		records:  make(map[string]map[language.Language]string),
		unsynced: make(map[string]bool),
	}
}

// NewFromConfig opens the configured badger database and wraps it in a Store.
// When the database cannot be opened the store falls back to memory.
func NewFromConfig(logger *zap.Logger, cfg *config.Config) *Store {
	persist, err := OpenBadger(logger, BadgerConfig{
		Dir:        cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
	})
	if err != nil {
		logger.Warn("code store persistence unavailable, keeping source in memory",
			zap.String("path", cfg.Store.Path),
			zap.Error(err))
		return New(logger, nil)
	}

	logger.Info("code store opened",
		zap.String("path", cfg.Store.Path),
		zap.Bool("in_memory", cfg.Store.InMemory))

	return New(logger, persist)
}

// Load returns every stored source for the problem. The map is a copy and is
// never nil.
func (s *Store) Load(problemID string) map[language.Language]string {
	s.mu.RLock()
	rec, ok := s.records[problemID]
	s.mu.RUnlock()
	if ok {
		return clone(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _ = s.recordLocked(problemID)
	return clone(rec)
}

// Save replaces the stored record of the problem. Last write wins.
func (s *Store) Save(problemID string, sources map[language.Language]string) {
	rec := clone(sources)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[problemID] = rec
	delete(s.unsynced, problemID)
	s.writeLocked(problemID, rec)
}

// Put stores the source of a single language, leaving the problem's other
// languages untouched.
func (s *Store) Put(problemID string, lang language.Language, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.recordLocked(problemID)
	rec := clone(cur)
	rec[lang] = source
	s.records[problemID] = rec
	if err != nil {
		s.unsynced[problemID] = true
		s.logger.Warn("stored record unreadable, keeping source in memory",
			zap.String("problem_id", problemID),
			zap.String("language", string(lang)),
			zap.Error(err))
		return
	}
	s.writeLocked(problemID, rec)
}

// GetOrDefault returns the stored source for the pair, or the template's
// output when nothing has been stored yet.
func (s *Store) GetOrDefault(problemID string, lang language.Language, template TemplateFunc) string {
	if src, ok := s.Load(problemID)[lang]; ok {
		return src
	}
	if template == nil {
		return ""
	}
	return template(lang)
}

// Close releases the persistence layer.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}
	return s.persist.Close()
}

// recordLocked returns the cached record, reading it from persistence on a
// miss. A record marked unsynced is read again and the in-memory edits are
// laid over what persistence holds. A non-nil error means persistence could
// not be read and the returned record may be partial. Callers hold s.mu for
// writing.
func (s *Store) recordLocked(problemID string) (map[language.Language]string, error) {
	rec, cached := s.records[problemID]
	if cached && !s.unsynced[problemID] {
		return rec, nil
	}

	stored, err := s.read(problemID)
	if err != nil {
		s.logger.Warn("failed to read stored source",
			zap.String("problem_id", problemID),
			zap.Error(err))
		return rec, err
	}

	if cached {
		merged := clone(stored)
		for lang, src := range rec {
			merged[lang] = src
		}
		delete(s.unsynced, problemID)
		s.records[problemID] = merged
		return merged, nil
	}

	if stored != nil {
		s.records[problemID] = stored
	}
	return stored, nil
}

// read returns the persisted record, or nil when there is none. Errors other
// than a missing key are returned. An undecodable record counts as missing.
func (s *Store) read(problemID string) (map[language.Language]string, error) {
	if s.persist == nil {
		return nil, nil
	}

	data, err := s.persist.Get([]byte(keyPrefix + problemID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("discarding undecodable source record",
			zap.String("problem_id", problemID),
			zap.Error(err))
		return nil, nil
	}

	rec := make(map[language.Language]string, len(raw))
	for name, src := range raw {
		lang, err := language.Parse(name)
		if err != nil {
			continue
		}
		rec[lang] = src
	}
	return rec, nil
}

func (s *Store) writeLocked(problemID string, rec map[language.Language]string) {
	if s.persist == nil {
		return
	}

	raw := make(map[string]string, len(rec))
	for lang, src := range rec {
		raw[string(lang)] = src
	}

	data, err := msgpack.Marshal(raw)
	if err != nil {
		s.logger.Warn("failed to encode source record", zap.String("problem_id", problemID), zap.Error(err))
		return
	}

	if err := s.persist.Set([]byte(keyPrefix+problemID), data); err != nil {
		s.logger.Warn("failed to persist source, keeping it in memory",
			zap.String("problem_id", problemID),
			zap.Error(err))
	}
}

func clone(rec map[language.Language]string) map[language.Language]string {
	out := make(map[language.Language]string, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
