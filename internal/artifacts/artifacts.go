// Package artifacts writes post-run JSON documents to disk for offline
// inspection. Artifact failures are reported to the caller but are never
// fatal to a run.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Sink persists named JSON documents for a run.
type Sink interface {
	Write(runID uuid.UUID, name string, payload any) error
}

// DirSink writes artifacts under root/<run-id>/<name>.json.
type DirSink struct {
	root string
}

func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

func (s *DirSink) Write(runID uuid.UUID, name string, payload any) error {
	dir := filepath.Join(s.root, runID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact %s: %w", name, err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact %s: %w", name, err)
	}
	return nil
}
