package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
)

// Store persists the whole database as one pretty-printed JSON file,
// rewritten wholesale on every mutation. Single process, last writer wins.
type Store struct {
	path string
}

func New(path string) *Store {
	s := &Store{path: path}
	s.ensureFile()
	return s
}

func (s *Store) ensureFile() {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Errorf("store: create dir %s: %v", dir, err)
		return
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.Save(domain.Database{}); err != nil {
			log.Errorf("store: init %s: %v", s.path, err)
		}
	}
}

// Load reads the database file. A missing or corrupt file degrades to an
// empty database so a bad file never takes the bot down; the read error is
// logged because it means user data may have been lost.
func (s *Store) Load() domain.Database {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		log.Errorf("store: read %s: %v", s.path, err)
		return domain.Database{}
	}
	var db domain.Database
	if err := json.Unmarshal(raw, &db); err != nil {
		log.Errorf("store: parse %s: %v", s.path, err)
		return domain.Database{}
	}
	if db == nil {
		db = domain.Database{}
	}
	return db
}

// Save rewrites the whole database file. Callers log the error and keep
// their in-memory result; the single lost write is accepted.
func (s *Store) Save(db domain.Database) error {
	raw, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}
