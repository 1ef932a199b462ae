package store

// Account is an identity on the external charging operator, owned by a
// local user. One account holds at most one live credential.
type Account struct {
	ID        string
	UserID    string
	Email     string
	CreatedAt int64
}

// Credential is the encrypted secret bound to an account. The plaintext
// never touches the store.
type Credential struct {
	AccountID string
	Secret    []byte
	Algorithm string
	UpdatedAt int64
}

// Point is a physical charging location owned by a user.
type Point struct {
	ID        string
	UserID    string
	Name      string
	Notes     string
	CreatedAt int64
}

// Connector is a chargeable socket belonging to a Point. Active gates
// whether it participates in refresh batches.
type Connector struct {
	ID        string
	PointID   string
	Name      string
	Type      string
	URL       string
	Position  int
	Active    bool
	CreatedAt int64
}

// ConnectorState is one append-only status observation. The current state
// of a connector is the most recent row, exposed through the
// connector_state_current view.
type ConnectorState struct {
	ID          string
	ConnectorID string
	Status      string
	RawHint     string
	CapturedAt  int64
}

// PointInfo is the latest-known descriptive snapshot of a Point. One row
// per point, fully overwritten on each successful extraction. Nil fields
// mean the external page did not yield the value.
type PointInfo struct {
	PointID        string
	Name           *string
	Address        *string
	Provider       *string
	Lat            *float64
	Lng            *float64
	ConnectorCount *int
	MaxPowerKW     *float64
	UpdatedAt      int64
}

// ConnectorInfo is the latest-known descriptive snapshot of a Connector.
type ConnectorInfo struct {
	ConnectorID string
	Type        *string
	PowerKW     *float64
	PriceText   *string
	PricePerKWh *float64
	TariffModel *string // kWh | free | per-minute | per-session
	UpdatedAt   int64
}

// WatchSet is a user-defined group of external targets monitored on a
// recurring schedule.
type WatchSet struct {
	ID              string
	UserID          string
	Name            string
	PreferredSocket string // A | B
	SwitchWindowMin int
	Active          bool
	CreatedAt       int64
}

// WatchItem references one external target inside a WatchSet.
type WatchItem struct {
	ID              string
	SetID           string
	ExternalID      string
	Priority        int
	PreferredSocket string
	Notes           string
}

// ExtractionRun is an audit row for one extraction call (status or
// metadata), including failed and Desconocido outcomes.
type ExtractionRun struct {
	ID         string
	TargetKind string // connector-status | connector-info | point-info
	TargetID   string
	Outcome    string // ok | error
	Detail     string
	DurationMs int64
	RanAt      int64
}
