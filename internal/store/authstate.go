package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PendingLogin is the singleton in-flight OAuth login record. At most
// one exists; starting a new login overwrites any prior one.
type PendingLogin struct {
	LoginID             string `json:"login_id"`
	AuthURL             string `json:"auth_url,omitempty"`
	ExpectedRedirectURI string `json:"expected_redirect_uri,omitempty"`
}

// SetPendingLogin stores (or replaces) the pending login.
func (db *DB) SetPendingLogin(p PendingLogin) error {
	_, err := db.Exec(`
		INSERT INTO auth_login_state(id, login_id, auth_url, expected_redirect_uri, updated_at)
		VALUES(1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			login_id = excluded.login_id,
			auth_url = excluded.auth_url,
			expected_redirect_uri = excluded.expected_redirect_uri,
			updated_at = excluded.updated_at
	`, p.LoginID, nullable(p.AuthURL), nullable(p.ExpectedRedirectURI), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set pending login: %w", err)
	}
	return nil
}

// ClearPendingLogin cancels any pending login.
func (db *DB) ClearPendingLogin() error {
	_, err := db.Exec(`
		INSERT INTO auth_login_state(id, login_id, auth_url, expected_redirect_uri, updated_at)
		VALUES(1, NULL, NULL, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			login_id = NULL,
			auth_url = NULL,
			expected_redirect_uri = NULL,
			updated_at = excluded.updated_at
	`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("clear pending login: %w", err)
	}
	return nil
}

// GetPendingLogin returns the pending login, or (zero, false) when none
// is in flight.
func (db *DB) GetPendingLogin() (PendingLogin, bool, error) {
	var loginID, authURL, redirectURI sql.NullString
	err := db.QueryRow(`
		SELECT login_id, auth_url, expected_redirect_uri
		FROM auth_login_state WHERE id = 1
	`).Scan(&loginID, &authURL, &redirectURI)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingLogin{}, false, nil
	}
	if err != nil {
		return PendingLogin{}, false, fmt.Errorf("query pending login: %w", err)
	}
	if !loginID.Valid || loginID.String == "" {
		return PendingLogin{}, false, nil
	}
	return PendingLogin{
		LoginID:             loginID.String,
		AuthURL:             authURL.String,
		ExpectedRedirectURI: redirectURI.String,
	}, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
