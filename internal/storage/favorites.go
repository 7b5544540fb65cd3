package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AddFavorite marks one of userID's items as a favorite. Adding an existing
// favorite is a no-op.
func (s *Store) AddFavorite(ctx context.Context, userID, historyID string) error {
	if _, err := s.GetHistory(ctx, userID, historyID); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.db, `
		INSERT INTO user_favorites (id, user_id, prompt_history_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, prompt_history_id) DO NOTHING`,
		uuid.NewString(), userID, historyID, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("inserting favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unmarks an item. The history item itself is kept.
func (s *Store) RemoveFavorite(ctx context.Context, userID, historyID string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM user_favorites WHERE user_id = ? AND prompt_history_id = ?`, userID, historyID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ListFavorites returns userID's favorites newest first, each joined with
// its history item. Favorites whose item is gone are skipped.
func (s *Store) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT f.id, f.created_at, `+historyColumns+`
		FROM user_favorites f
		JOIN prompt_history h ON h.id = f.prompt_history_id AND h.user_id = f.user_id
		WHERE f.user_id = ?
		ORDER BY f.created_at DESC, f.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favs := []Favorite{}
	for rows.Next() {
		var (
			fav       Favorite
			createdAt string
		)
		item, err := scanHistory(prefixScanner{rows: rows, prefix: []any{&fav.ID, &createdAt}})
		if err != nil {
			return nil, err
		}
		if fav.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing favorite created_at: %w", err)
		}
		fav.HistoryID = item.ID
		fav.Item = item
		favs = append(favs, fav)
	}
	return favs, rows.Err()
}

// prefixScanner scans leading columns into prefix before the history columns.
type prefixScanner struct {
	rows   scanner
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(p.prefix, dest...)...)
}
