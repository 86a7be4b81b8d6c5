// Package state persists and restores the crawler snapshot that makes
// pause/resume possible.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"webcrawler/pkg/models"
	"webcrawler/pkg/utils"
)

// Persister writes and reads CrawlerState snapshots at a fixed path.
type Persister struct {
	path string
	log  *logrus.Entry
}

// NewPersister creates a Persister for the given snapshot path.
func NewPersister(path string, log *logrus.Entry) *Persister {
	return &Persister{path: path, log: log}
}

// Path returns the snapshot file path.
func (p *Persister) Path() string {
	return p.path
}

// Save writes the snapshot atomically: the JSON document goes to a
// temporary file in the same directory, which is then renamed over the
// target so a crash mid-write never leaves a truncated snapshot.
func (p *Persister) Save(st *models.CrawlerState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"path": p.path, "frontier": len(st.Frontier), "visited": len(st.Visited), "records": len(st.Records),
	}).Info("Snapshot saved")
	return nil
}

// Load reads the snapshot. A missing or unparseable snapshot is
// ErrStateCorruption: resume must fail loudly rather than silently
// starting a fresh crawl.
func (p *Persister) Load() (*models.CrawlerState, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no snapshot at '%s'", utils.ErrStateCorruption, p.path)
		}
		return nil, fmt.Errorf("%w: reading snapshot '%s': %w", utils.ErrStateCorruption, p.path, err)
	}

	var st models.CrawlerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: parsing snapshot '%s': %w", utils.ErrStateCorruption, p.path, err)
	}
	if st.Records == nil {
		st.Records = make(map[string]*models.CrawlRecord)
	}

	p.log.WithFields(logrus.Fields{
		"path": p.path, "frontier": len(st.Frontier), "visited": len(st.Visited), "records": len(st.Records),
	}).Info("Snapshot loaded")
	return &st, nil
}

// Discard removes the snapshot file. A missing file is not an error.
func (p *Persister) Discard() error {
	err := os.Remove(p.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard snapshot '%s': %w", p.path, err)
	}
	if err == nil {
		p.log.Debugf("Snapshot discarded: %s", p.path)
	}
	return nil
}

// Exists reports whether a snapshot file is present.
func (p *Persister) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}
