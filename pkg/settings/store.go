// Package settings persists and serves the operator-managed settings
// document: LLM provider credentials, the asset inventory, the SSH keystore,
// and tool-provider connection blocks.
package settings

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// mainKey is the row key of the single settings document.
const mainKey = "main"

// writeTimeout bounds settings writes so a stuck pool cannot hang a request.
const writeTimeout = 10 * time.Second

// Store reads and replaces the settings document.
type Store struct {
	db     *stdsql.DB
	logger *slog.Logger
}

// NewStore creates a settings store backed by the given connection pool.
func NewStore(db *stdsql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Get loads a fresh snapshot of the settings document.
// Returns ErrNotOnboarded when the document has never been saved.
func (s *Store) Get(ctx context.Context) (*Snapshot, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM app_settings WHERE key = $1`, mainKey,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotOnboarded
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &snap, nil
}

// Save replaces the whole settings document.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSettings)
	}
	if snap.LLMProvider == "" {
		return fmt.Errorf("%w: llm_provider is required", ErrInvalidSettings)
	}
	for i, asset := range snap.Assets {
		if asset.IP == "" && asset.Name == "" {
			return fmt.Errorf("%w: asset %d has neither ip nor name", ErrInvalidSettings, i)
		}
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err = s.db.ExecContext(writeCtx,
		`INSERT INTO app_settings (key, data, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		mainKey, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.logger.Info("Settings saved",
		"llm_provider", snap.LLMProvider,
		"assets", len(snap.Assets),
		"ssh_keys", len(snap.SSHKeys))
	return nil
}
