package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertPoint adds a new point for a user.
func (s *Store) InsertPoint(ctx context.Context, userID, name, notes string) (*Point, error) {
	p := &Point{
		ID:        s.newID(),
		UserID:    userID,
		Name:      name,
		Notes:     notes,
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO points (id, user_id, name, notes, created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.UserID, p.Name, p.Notes, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert point: %w", err)
	}
	return p, nil
}

// GetPoint retrieves a point by ID scoped to its owner. Returns nil, nil
// when absent or owned by someone else.
func (s *Store) GetPoint(ctx context.Context, id, userID string) (*Point, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, name, notes, created_at FROM points WHERE id = ? AND user_id = ?`,
		id, userID)
	var p Point
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Notes, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan point: %w", err)
	}
	return &p, nil
}

// ListPoints returns all points owned by a user, newest first.
func (s *Store) ListPoints(ctx context.Context, userID string) ([]*Point, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, name, notes, created_at FROM points
		 WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list points: %w", err)
	}
	defer rows.Close()

	var out []*Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan point: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// InsertConnector adds a connector to a point.
func (s *Store) InsertConnector(ctx context.Context, c *Connector) error {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Position == 0 {
		c.Position = 1
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO connectors (id, point_id, name, type, url, position, active, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.PointID, c.Name, c.Type, c.URL, c.Position, boolInt(c.Active), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert connector: %w", err)
	}
	return nil
}

// GetConnector retrieves a connector by ID. Returns nil, nil when absent.
func (s *Store) GetConnector(ctx context.Context, id string) (*Connector, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, point_id, name, type, url, position, active, created_at
		 FROM connectors WHERE id = ?`, id)
	return scanConnector(row)
}

// ListConnectors returns all connectors of a point in display order.
func (s *Store) ListConnectors(ctx context.Context, pointID string) ([]*Connector, error) {
	return s.queryConnectors(ctx,
		`SELECT id, point_id, name, type, url, position, active, created_at
		 FROM connectors WHERE point_id = ? ORDER BY position, id`, pointID)
}

// ActiveConnectors returns the connectors of a point that participate in
// refresh batches, in batch order.
func (s *Store) ActiveConnectors(ctx context.Context, pointID string) ([]*Connector, error) {
	return s.queryConnectors(ctx,
		`SELECT id, point_id, name, type, url, position, active, created_at
		 FROM connectors WHERE point_id = ? AND active = 1 ORDER BY position, id`, pointID)
}

// ActiveConnectorsForUser returns every active connector across all of a
// user's points, ordered by point then position. This is the scheduled
// status-refresh batch.
func (s *Store) ActiveConnectorsForUser(ctx context.Context, userID string) ([]*Connector, error) {
	return s.queryConnectors(ctx,
		`SELECT c.id, c.point_id, c.name, c.type, c.url, c.position, c.active, c.created_at
		 FROM connectors c
		 JOIN points p ON p.id = c.point_id
		 WHERE p.user_id = ? AND c.active = 1
		 ORDER BY p.id, c.position, c.id`, userID)
}

// SetConnectorActive toggles batch participation.
func (s *Store) SetConnectorActive(ctx context.Context, id string, active bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE connectors SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("store: set connector active: %w", err)
	}
	return nil
}

func (s *Store) queryConnectors(ctx context.Context, query string, args ...any) ([]*Connector, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query connectors: %w", err)
	}
	defer rows.Close()

	var out []*Connector
	for rows.Next() {
		var c Connector
		var active int
		if err := rows.Scan(&c.ID, &c.PointID, &c.Name, &c.Type, &c.URL, &c.Position, &active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan connector: %w", err)
		}
		c.Active = active != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanConnector(row *sql.Row) (*Connector, error) {
	var c Connector
	var active int
	err := row.Scan(&c.ID, &c.PointID, &c.Name, &c.Type, &c.URL, &c.Position, &active, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan connector: %w", err)
	}
	c.Active = active != 0
	return &c, nil
}
