package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSettings returns userID's settings, or the defaults when none are stored.
func (s *Store) GetSettings(ctx context.Context, userID string) (Settings, error) {
	var (
		st        Settings
		updatedAt string
	)
	err := s.queryRow(ctx, s.db, `SELECT default_model, default_provider, theme, updated_at FROM user_settings WHERE user_id = ?`, userID).
		Scan(&st.DefaultModel, &st.DefaultProvider, &st.Theme, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{Theme: DefaultTheme}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Settings{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return st, nil
}

// PutSettings upserts userID's settings.
func (s *Store) PutSettings(ctx context.Context, userID string, st Settings) (Settings, error) {
	if st.Theme == "" {
		st.Theme = DefaultTheme
	}
	now := s.timestamp()
	_, err := s.exec(ctx, s.db, `
		INSERT INTO user_settings (user_id, default_model, default_provider, theme, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			default_model = excluded.default_model,
			default_provider = excluded.default_provider,
			theme = excluded.theme,
			updated_at = excluded.updated_at`,
		userID, st.DefaultModel, st.DefaultProvider, st.Theme, now,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("saving settings: %w", err)
	}
	st.UpdatedAt, _ = parseTime(now)
	return st, nil
}
