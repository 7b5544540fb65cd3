package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/promptarchitect/studio/internal/prompt"
)

const historyColumns = `h.id, h.user_id, h.original_input, h.result_json, h.provider, h.model, h.custom_title, h.parent_id, h.created_at,
	CASE WHEN EXISTS (SELECT 1 FROM user_favorites f WHERE f.user_id = h.user_id AND f.prompt_history_id = h.id) THEN 1 ELSE 0 END`

// InsertHistory persists a result for userID and returns the stored item
// with its generated ID and timestamp.
func (s *Store) InsertHistory(ctx context.Context, userID, input string, res prompt.Result, parentID string) (HistoryItem, error) {
	res.ID = ""
	body, err := json.Marshal(res)
	if err != nil {
		return HistoryItem{}, fmt.Errorf("encoding result: %w", err)
	}

	item := HistoryItem{
		ID:            uuid.NewString(),
		UserID:        userID,
		OriginalInput: input,
		Result:        res,
		ParentID:      parentID,
		CreatedAt:     s.now().UTC(),
	}
	item.Result.ID = item.ID

	_, err = s.exec(ctx, s.db, `
		INSERT INTO prompt_history (id, user_id, original_input, result_json, provider, model, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, userID, input, string(body), res.Provider, res.Model, parentID, formatTime(item.CreatedAt),
	)
	if err != nil {
		return HistoryItem{}, fmt.Errorf("inserting history: %w", err)
	}
	// Round-trip through the stored text so callers see the same precision
	// as later reads.
	item.CreatedAt, _ = parseTime(formatTime(item.CreatedAt))
	return item, nil
}

// GetHistory returns one of userID's items.
func (s *Store) GetHistory(ctx context.Context, userID, id string) (HistoryItem, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+historyColumns+` FROM prompt_history h WHERE h.user_id = ? AND h.id = ?`, userID, id)
	item, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryItem{}, ErrNotFound
	}
	return item, err
}

// ListHistory returns userID's items newest first.
func (s *Store) ListHistory(ctx context.Context, userID string, limit, offset int) ([]HistoryItem, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+historyColumns+` FROM prompt_history h
		WHERE h.user_id = ? ORDER BY h.created_at DESC, h.id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

// RecentHistory returns userID's most recent items.
func (s *Store) RecentHistory(ctx context.Context, userID string, limit int) ([]HistoryItem, error) {
	return s.ListHistory(ctx, userID, limit, 0)
}

// RenameHistory sets the user-assigned title of one item.
func (s *Store) RenameHistory(ctx context.Context, userID, id, title string) error {
	res, err := s.exec(ctx, s.db, `UPDATE prompt_history SET custom_title = ? WHERE user_id = ? AND id = ?`, title, userID, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetTitleIfUnset sets the title only when the item has none. It reports
// whether the title was written.
func (s *Store) SetTitleIfUnset(ctx context.Context, userID, id, title string) (bool, error) {
	res, err := s.exec(ctx, s.db, `UPDATE prompt_history SET custom_title = ? WHERE user_id = ? AND id = ? AND custom_title = ''`, title, userID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteHistory removes one item together with its favorite rows.
func (s *Store) DeleteHistory(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := s.exec(ctx, tx, `DELETE FROM prompt_history WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	if _, err := s.exec(ctx, tx, `DELETE FROM user_favorites WHERE user_id = ? AND prompt_history_id = ?`, userID, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearHistory deletes every item of userID that is not a favorite and
// returns how many were removed. Parent references of survivors are left
// untouched.
func (s *Store) ClearHistory(ctx context.Context, userID string) (int64, error) {
	res, err := s.exec(ctx, s.db, `
		DELETE FROM prompt_history
		WHERE user_id = ? AND id NOT IN (SELECT prompt_history_id FROM user_favorites WHERE user_id = ?)`,
		userID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Lineage returns the item with its parent, children and siblings. A parent
// that was deleted is reported as nil.
func (s *Store) Lineage(ctx context.Context, userID, id string) (Lineage, error) {
	item, err := s.GetHistory(ctx, userID, id)
	if err != nil {
		return Lineage{}, err
	}
	l := Lineage{Item: item, Children: []HistoryItem{}, Siblings: []HistoryItem{}}

	if item.ParentID != "" {
		parent, err := s.GetHistory(ctx, userID, item.ParentID)
		switch {
		case err == nil:
			l.Parent = &parent
		case !errors.Is(err, ErrNotFound):
			return Lineage{}, err
		}

		rows, err := s.query(ctx, s.db, `SELECT `+historyColumns+` FROM prompt_history h
			WHERE h.user_id = ? AND h.parent_id = ? AND h.id <> ? ORDER BY h.created_at ASC, h.id ASC`,
			userID, item.ParentID, id)
		if err != nil {
			return Lineage{}, err
		}
		if l.Siblings, err = collectHistory(rows); err != nil {
			return Lineage{}, err
		}
	}

	rows, err := s.query(ctx, s.db, `SELECT `+historyColumns+` FROM prompt_history h
		WHERE h.user_id = ? AND h.parent_id = ? ORDER BY h.created_at ASC, h.id ASC`, userID, id)
	if err != nil {
		return Lineage{}, err
	}
	if l.Children, err = collectHistory(rows); err != nil {
		return Lineage{}, err
	}
	return l, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (HistoryItem, error) {
	var (
		item      HistoryItem
		body      string
		provider  string
		model     string
		createdAt string
		favorite  int
	)
	if err := row.Scan(&item.ID, &item.UserID, &item.OriginalInput, &body, &provider, &model,
		&item.CustomTitle, &item.ParentID, &createdAt, &favorite); err != nil {
		return HistoryItem{}, err
	}
	if err := json.Unmarshal([]byte(body), &item.Result); err != nil {
		return HistoryItem{}, fmt.Errorf("decoding result of %s: %w", item.ID, err)
	}
	if item.Result.SuggestedVariables == nil {
		item.Result.SuggestedVariables = []string{}
	}
	item.Result.ID = item.ID
	item.Result.Provider = provider
	item.Result.Model = model
	item.Favorite = favorite == 1

	t, err := parseTime(createdAt)
	if err != nil {
		return HistoryItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	item.CreatedAt = t
	return item, nil
}

func collectHistory(rows *sql.Rows) ([]HistoryItem, error) {
	defer rows.Close()
	items := []HistoryItem{}
	for rows.Next() {
		item, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
