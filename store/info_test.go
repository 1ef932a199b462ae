package store

import (
	"context"
	"testing"
	"time"
)

func strp(s string) *string   { return &s }
func f64p(v float64) *float64 { return &v }
func intp(v int) *int         { return &v }

func TestUpsertPointInfoOverwrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	pt, err := st.InsertPoint(ctx, "u1", "Garaje", "")
	if err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}

	first := &PointInfo{
		PointID:        pt.ID,
		Name:           strp("Estación Centro"),
		Address:        strp("Calle Mayor 1"),
		Provider:       strp("Iberdrola"),
		Lat:            f64p(40.4168),
		Lng:            f64p(-3.7038),
		ConnectorCount: intp(2),
		MaxPowerKW:     f64p(22),
	}
	if err := st.UpsertPointInfo(ctx, first); err != nil {
		t.Fatalf("UpsertPointInfo: %v", err)
	}
	firstAt := first.UpdatedAt

	time.Sleep(2 * time.Millisecond)

	// Second extraction no longer sees the provider: the field must become
	// NULL, not linger from the first snapshot.
	second := &PointInfo{
		PointID: pt.ID,
		Name:    strp("Estación Centro"),
		Address: strp("Calle Mayor 1"),
	}
	if err := st.UpsertPointInfo(ctx, second); err != nil {
		t.Fatalf("UpsertPointInfo second: %v", err)
	}

	got, err := st.GetPointInfo(ctx, pt.ID)
	if err != nil {
		t.Fatalf("GetPointInfo: %v", err)
	}
	if got == nil {
		t.Fatal("GetPointInfo returned nil after upsert")
	}
	if got.Provider != nil {
		t.Errorf("provider = %q, want nil after overwrite", *got.Provider)
	}
	if got.Lat != nil || got.Lng != nil {
		t.Error("coordinates should be nil after overwrite")
	}
	if got.UpdatedAt <= firstAt {
		t.Errorf("updated_at %d not refreshed past %d", got.UpdatedAt, firstAt)
	}

	var count int
	if err := st.DB.QueryRow(`SELECT COUNT(*) FROM point_info WHERE point_id = ?`, pt.ID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows, want exactly 1 per point", count)
	}
}

func TestUpsertConnectorInfoOverwrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	c := seedConnector(t, st, "u1")

	if err := st.UpsertConnectorInfo(ctx, &ConnectorInfo{
		ConnectorID: c.ID,
		Type:        strp("Type 2"),
		PowerKW:     f64p(7.4),
		PriceText:   strp("0,35 €/kWh"),
		PricePerKWh: f64p(0.35),
		TariffModel: strp("kWh"),
	}); err != nil {
		t.Fatalf("UpsertConnectorInfo: %v", err)
	}

	if err := st.UpsertConnectorInfo(ctx, &ConnectorInfo{
		ConnectorID: c.ID,
		Type:        strp("Type 2"),
		PriceText:   strp("Gratis"),
		PricePerKWh: f64p(0),
		TariffModel: strp("free"),
	}); err != nil {
		t.Fatalf("UpsertConnectorInfo second: %v", err)
	}

	got, err := st.GetConnectorInfo(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConnectorInfo: %v", err)
	}
	if got.PowerKW != nil {
		t.Errorf("power = %v, want nil after overwrite", *got.PowerKW)
	}
	if got.TariffModel == nil || *got.TariffModel != "free" {
		t.Errorf("tariff model = %v, want free", got.TariffModel)
	}
	if got.PricePerKWh == nil || *got.PricePerKWh != 0 {
		t.Errorf("price = %v, want explicit 0 for free charging", got.PricePerKWh)
	}
}

func TestGetInfoNeverExtracted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	info, err := st.GetPointInfo(ctx, "missing")
	if err != nil {
		t.Fatalf("GetPointInfo: %v", err)
	}
	if info != nil {
		t.Fatalf("got %+v, want nil for never-extracted point", info)
	}

	cinfo, err := st.GetConnectorInfo(ctx, "missing")
	if err != nil {
		t.Fatalf("GetConnectorInfo: %v", err)
	}
	if cinfo != nil {
		t.Fatalf("got %+v, want nil for never-extracted connector", cinfo)
	}
}
