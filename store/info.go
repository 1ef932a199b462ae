package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertPointInfo writes the latest descriptive snapshot of a point:
// insert-if-absent, else full-field overwrite plus a refreshed timestamp.
// Partial updates are deliberately impossible — a field the markup no
// longer exposes becomes NULL instead of lingering stale.
func (s *Store) UpsertPointInfo(ctx context.Context, info *PointInfo) error {
	info.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO point_info
		(point_id, name, address, provider, lat, lng, connector_count, max_power_kw, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(point_id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			provider = excluded.provider,
			lat = excluded.lat,
			lng = excluded.lng,
			connector_count = excluded.connector_count,
			max_power_kw = excluded.max_power_kw,
			updated_at = excluded.updated_at`,
		info.PointID, info.Name, info.Address, info.Provider,
		info.Lat, info.Lng, info.ConnectorCount, info.MaxPowerKW, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert point info: %w", err)
	}
	return nil
}

// GetPointInfo returns the latest snapshot for a point, or nil when never
// extracted.
func (s *Store) GetPointInfo(ctx context.Context, pointID string) (*PointInfo, error) {
	var info PointInfo
	err := s.DB.QueryRowContext(ctx, `
		SELECT point_id, name, address, provider, lat, lng, connector_count, max_power_kw, updated_at
		FROM point_info WHERE point_id = ?`, pointID,
	).Scan(&info.PointID, &info.Name, &info.Address, &info.Provider,
		&info.Lat, &info.Lng, &info.ConnectorCount, &info.MaxPowerKW, &info.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get point info: %w", err)
	}
	return &info, nil
}

// UpsertConnectorInfo writes the latest descriptive snapshot of a
// connector with the same full-overwrite semantics as UpsertPointInfo.
func (s *Store) UpsertConnectorInfo(ctx context.Context, info *ConnectorInfo) error {
	info.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO connector_info
		(connector_id, type, power_kw, price_text, price_kwh, tariff_model, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(connector_id) DO UPDATE SET
			type = excluded.type,
			power_kw = excluded.power_kw,
			price_text = excluded.price_text,
			price_kwh = excluded.price_kwh,
			tariff_model = excluded.tariff_model,
			updated_at = excluded.updated_at`,
		info.ConnectorID, info.Type, info.PowerKW, info.PriceText,
		info.PricePerKWh, info.TariffModel, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert connector info: %w", err)
	}
	return nil
}

// GetConnectorInfo returns the latest snapshot for a connector, or nil
// when never extracted.
func (s *Store) GetConnectorInfo(ctx context.Context, connectorID string) (*ConnectorInfo, error) {
	var info ConnectorInfo
	err := s.DB.QueryRowContext(ctx, `
		SELECT connector_id, type, power_kw, price_text, price_kwh, tariff_model, updated_at
		FROM connector_info WHERE connector_id = ?`, connectorID,
	).Scan(&info.ConnectorID, &info.Type, &info.PowerKW, &info.PriceText,
		&info.PricePerKWh, &info.TariffModel, &info.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get connector info: %w", err)
	}
	return &info, nil
}
