package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/plugwatch/browser"
)

// AuthCookieName is the cookie the external operator issues on successful
// login. Its presence after a harvest is the login-success signal; its
// expiry drives AccountsDueForRefresh.
const AuthCookieName = "auth_token"

// StoreCookies persists a harvested cookie set for an account. For each
// cookie it atomically demotes the previous current row of the same
// lineage (account, name, domain, path) and inserts the new one as
// current+valid, so at most one current+valid row per lineage exists at
// any time. Returns the number stored and whether the primary auth cookie
// was present with a non-empty value.
func (s *Store) StoreCookies(ctx context.Context, accountID string, cookies []browser.Cookie) (int, bool, error) {
	stored := 0
	hasAuth := false

	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = s.DefaultCookieDomain
		}
		path := c.Path
		if path == "" {
			path = s.DefaultCookiePath
		}

		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return stored, hasAuth, fmt.Errorf("store: begin cookie tx: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cookies SET current = 0, valid = 0
			WHERE account_id = ? AND name = ? AND domain = ? AND path = ? AND current = 1`,
			accountID, c.Name, domain, path,
		)
		if err != nil {
			tx.Rollback()
			return stored, hasAuth, fmt.Errorf("store: supersede cookie %s: %w", c.Name, err)
		}

		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cookies
			(id, account_id, name, value, domain, path, expiry, secure, http_only,
			 same_site, last_login_at, last_refresh_at, valid, current)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,1,1)`,
			s.newID(), accountID, c.Name, c.Value, domain, path, c.Expiry,
			boolInt(c.Secure), boolInt(c.HTTPOnly), c.SameSite, now, now,
		)
		if err != nil {
			tx.Rollback()
			return stored, hasAuth, fmt.Errorf("store: insert cookie %s: %w", c.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return stored, hasAuth, fmt.Errorf("store: commit cookie %s: %w", c.Name, err)
		}

		stored++
		if strings.EqualFold(c.Name, AuthCookieName) && c.Value != "" {
			hasAuth = true
		}
	}

	return stored, hasAuth, nil
}

// CurrentCookies returns every current+valid cookie for the account,
// reduced to the fields a browser needs for session priming. Login flows
// never call this — login starts unauthenticated.
func (s *Store) CurrentCookies(ctx context.Context, accountID string) ([]browser.Cookie, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT name, value, domain, path, expiry, secure, http_only
		FROM cookies
		WHERE account_id = ? AND current = 1 AND valid = 1`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: current cookies: %w", err)
	}
	defer rows.Close()

	var out []browser.Cookie
	for rows.Next() {
		var c browser.Cookie
		var secure, httpOnly int
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &c.Expiry, &secure, &httpOnly); err != nil {
			return nil, fmt.Errorf("store: scan cookie: %w", err)
		}
		if c.Domain == "" {
			c.Domain = s.DefaultCookieDomain
		}
		if c.Path == "" {
			c.Path = s.DefaultCookiePath
		}
		c.Secure = secure != 0
		c.HTTPOnly = httpOnly != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// DueAccount is an account whose session needs re-acquisition, carrying
// the encrypted credential so callers can decrypt and log in.
type DueAccount struct {
	Account
	Secret    []byte
	Algorithm string
}

// AccountsDueForRefresh returns every account holding a credential whose
// primary auth cookie is absent, has no recorded expiry, or expires within
// horizon. Never-logged-in accounts are immediately due; accounts with a
// comfortably live auth cookie are excluded.
func (s *Store) AccountsDueForRefresh(ctx context.Context, horizon time.Duration) ([]DueAccount, error) {
	cutoff := time.Now().Add(horizon).Unix()
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT a.id, a.user_id, a.email, a.created_at, c.secret, c.algorithm
		FROM accounts a
		JOIN credentials c ON c.account_id = a.id
		LEFT JOIN cookies k ON k.account_id = a.id
			AND k.current = 1 AND k.valid = 1 AND k.name = ?
		WHERE k.id IS NULL OR k.expiry IS NULL OR k.expiry <= ?`,
		AuthCookieName, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("store: due accounts: %w", err)
	}
	defer rows.Close()

	var out []DueAccount
	for rows.Next() {
		var d DueAccount
		if err := rows.Scan(&d.ID, &d.UserID, &d.Email, &d.CreatedAt, &d.Secret, &d.Algorithm); err != nil {
			return nil, fmt.Errorf("store: scan due account: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
