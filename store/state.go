package store

import (
	"context"
	"fmt"
	"time"
)

// AppendState records one status observation for a connector. Observations
// are append-only; Desconocido is first-class data and is recorded like any
// other status.
func (s *Store) AppendState(ctx context.Context, connectorID, status, rawHint string) error {
	if rawHint == "" {
		rawHint = "none"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO connector_states (id, connector_id, status, raw_hint, captured_at)
		 VALUES (?,?,?,?,?)`,
		s.newID(), connectorID, status, rawHint, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: append state: %w", err)
	}
	return nil
}

// CurrentState returns the latest observation for a connector, or nil when
// it has never been observed.
func (s *Store) CurrentState(ctx context.Context, connectorID string) (*ConnectorState, error) {
	rows, err := s.queryStates(ctx,
		`SELECT id, connector_id, status, raw_hint, captured_at
		 FROM connector_state_current WHERE connector_id = ?`, connectorID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// CurrentStatesForPoint returns the latest observation per connector of a
// point, via the connector_state_current view.
func (s *Store) CurrentStatesForPoint(ctx context.Context, pointID string) ([]*ConnectorState, error) {
	return s.queryStates(ctx, `
		SELECT v.id, v.connector_id, v.status, v.raw_hint, v.captured_at
		FROM connector_state_current v
		JOIN connectors c ON c.id = v.connector_id
		WHERE c.point_id = ?
		ORDER BY c.position, c.id`, pointID)
}

// StateHistory returns up to limit observations for a connector, newest
// first.
func (s *Store) StateHistory(ctx context.Context, connectorID string, limit int) ([]*ConnectorState, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryStates(ctx,
		`SELECT id, connector_id, status, raw_hint, captured_at
		 FROM connector_states WHERE connector_id = ?
		 ORDER BY captured_at DESC, rowid DESC LIMIT ?`, connectorID, limit)
}

func (s *Store) queryStates(ctx context.Context, query string, args ...any) ([]*ConnectorState, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query states: %w", err)
	}
	defer rows.Close()

	var out []*ConnectorState
	for rows.Next() {
		var st ConnectorState
		if err := rows.Scan(&st.ID, &st.ConnectorID, &st.Status, &st.RawHint, &st.CapturedAt); err != nil {
			return nil, fmt.Errorf("store: scan state: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// LogRun records one extraction call in the audit log. Errors are returned
// but callers typically log and continue; a failing audit write never
// aborts an extraction.
func (s *Store) LogRun(ctx context.Context, run *ExtractionRun) error {
	if run.ID == "" {
		run.ID = s.newID()
	}
	if run.RanAt == 0 {
		run.RanAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO extraction_runs (id, target_kind, target_id, outcome, detail, duration_ms, ran_at)
		 VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.TargetKind, run.TargetID, run.Outcome, run.Detail, run.DurationMs, run.RanAt,
	)
	if err != nil {
		return fmt.Errorf("store: log run: %w", err)
	}
	return nil
}
