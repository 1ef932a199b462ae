package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertWatchSet creates a watch set. Sets start inactive; activation
// materializes the recurring job (see jobs package).
func (s *Store) InsertWatchSet(ctx context.Context, set *WatchSet) error {
	if set.ID == "" {
		set.ID = s.newID()
	}
	if set.PreferredSocket == "" {
		set.PreferredSocket = "A"
	}
	if set.SwitchWindowMin == 0 {
		set.SwitchWindowMin = 5
	}
	if set.CreatedAt == 0 {
		set.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO watch_sets (id, user_id, name, preferred_socket, switch_window_min, active, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		set.ID, set.UserID, set.Name, set.PreferredSocket, set.SwitchWindowMin,
		boolInt(set.Active), set.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert watch set: %w", err)
	}
	return nil
}

// GetWatchSet retrieves a watch set scoped to its owner. Returns nil, nil
// when absent.
func (s *Store) GetWatchSet(ctx context.Context, id, userID string) (*WatchSet, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, preferred_socket, switch_window_min, active, created_at
		FROM watch_sets WHERE id = ? AND user_id = ?`, id, userID)
	return scanWatchSet(row)
}

// ListWatchSets returns a user's watch sets, newest first.
func (s *Store) ListWatchSets(ctx context.Context, userID string) ([]*WatchSet, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, name, preferred_socket, switch_window_min, active, created_at
		FROM watch_sets WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list watch sets: %w", err)
	}
	defer rows.Close()

	var out []*WatchSet
	for rows.Next() {
		var ws WatchSet
		var active int
		if err := rows.Scan(&ws.ID, &ws.UserID, &ws.Name, &ws.PreferredSocket,
			&ws.SwitchWindowMin, &active, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan watch set: %w", err)
		}
		ws.Active = active != 0
		out = append(out, &ws)
	}
	return out, rows.Err()
}

// SetWatchSetActive toggles a set's activation flag.
func (s *Store) SetWatchSetActive(ctx context.Context, id string, active bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE watch_sets SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("store: set watch set active: %w", err)
	}
	return nil
}

// AddWatchItem appends a target to a watch set.
func (s *Store) AddWatchItem(ctx context.Context, item *WatchItem) error {
	if item.ID == "" {
		item.ID = s.newID()
	}
	if item.Priority == 0 {
		item.Priority = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO watch_items (id, set_id, external_id, priority, preferred_socket, notes)
		VALUES (?,?,?,?,?,?)`,
		item.ID, item.SetID, item.ExternalID, item.Priority, item.PreferredSocket, item.Notes,
	)
	if err != nil {
		return fmt.Errorf("store: add watch item: %w", err)
	}
	return nil
}

// ListWatchItems returns the items of a set in priority order.
func (s *Store) ListWatchItems(ctx context.Context, setID string) ([]*WatchItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, set_id, external_id, priority, preferred_socket, notes
		FROM watch_items WHERE set_id = ? ORDER BY priority ASC, id ASC`, setID)
	if err != nil {
		return nil, fmt.Errorf("store: list watch items: %w", err)
	}
	defer rows.Close()

	var out []*WatchItem
	for rows.Next() {
		var it WatchItem
		if err := rows.Scan(&it.ID, &it.SetID, &it.ExternalID, &it.Priority,
			&it.PreferredSocket, &it.Notes); err != nil {
			return nil, fmt.Errorf("store: scan watch item: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func scanWatchSet(row *sql.Row) (*WatchSet, error) {
	var ws WatchSet
	var active int
	err := row.Scan(&ws.ID, &ws.UserID, &ws.Name, &ws.PreferredSocket,
		&ws.SwitchWindowMin, &active, &ws.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan watch set: %w", err)
	}
	ws.Active = active != 0
	return &ws, nil
}
