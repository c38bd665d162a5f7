package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrUnchanged is returned by Unchanged when a style's digest
	// matches its last checkpoint.
	ErrUnchanged = errors.New("style unchanged since last checkpoint")
)

// Checkpoint records the last published build of one style.
type Checkpoint struct {
	StyleID   string            `json:"style_id"`
	BuildID   string            `json:"build_id"`
	Digest    string            `json:"digest"`
	Resources map[string]string `json:"resources,omitempty"` // path → fingerprint
	UpdatedAt time.Time         `json:"updated_at"`
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint for styleID.
	Load(ctx context.Context, styleID string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// Unchanged reports ErrUnchanged when the stored checkpoint for styleID
// already carries digest.
func Unchanged(ctx context.Context, m Manager, styleID, digest string) error {
	cp, err := m.Load(ctx, styleID)
	if errors.Is(err, ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		return err
	}
	if cp.Digest == digest {
		return ErrUnchanged
	}
	return nil
}

// fileManager persists one JSON file per style.
type fileManager struct {
	dir string
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func (m *fileManager) checkpointPath(styleID string) string {
	filename := fmt.Sprintf("checkpoint_%s.json", unsafeChars.ReplaceAllString(styleID, "_"))
	return filepath.Join(m.dir, filename)
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, styleID string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(styleID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.StyleID == "" {
		return errors.New("checkpoint without style id")
	}
	path := m.checkpointPath(cp.StyleID)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, styleID string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
