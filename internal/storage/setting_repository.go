package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"oauthfed/internal/federation"
	"oauthfed/pkg/db"
)

const settingColumns = `provider, enabled, client_id, client_secret, authorization_endpoint,
	token_endpoint, userinfo_endpoint, scope, created_at, updated_at`

// ProviderSettingRepository stores provider configuration keyed by provider name.
type ProviderSettingRepository struct {
	db db.SQLExecutor
}

var _ federation.SettingsReader = (*ProviderSettingRepository)(nil)

func NewProviderSettingRepository(exec db.SQLExecutor) *ProviderSettingRepository {
	return &ProviderSettingRepository{db: exec}
}

func (r *ProviderSettingRepository) FindSetting(ctx context.Context, provider string) (*federation.ProviderSetting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settingColumns+` FROM oauth_settings WHERE provider = ?`, provider)
	return scanSetting(row)
}

func (r *ProviderSettingRepository) ListEnabledSettings(ctx context.Context) ([]*federation.ProviderSetting, error) {
	return r.list(ctx, `SELECT `+settingColumns+` FROM oauth_settings WHERE enabled = 1 ORDER BY provider`)
}

func (r *ProviderSettingRepository) ListSettings(ctx context.Context) ([]*federation.ProviderSetting, error) {
	return r.list(ctx, `SELECT `+settingColumns+` FROM oauth_settings ORDER BY provider`)
}

func (r *ProviderSettingRepository) list(ctx context.Context, query string) ([]*federation.ProviderSetting, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var out []*federation.ProviderSetting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return out, nil
}

// SaveSetting creates or replaces the setting; created_at survives updates.
func (r *ProviderSettingRepository) SaveSetting(ctx context.Context, s *federation.ProviderSetting) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_settings (`+settingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			enabled = excluded.enabled,
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			authorization_endpoint = excluded.authorization_endpoint,
			token_endpoint = excluded.token_endpoint,
			userinfo_endpoint = excluded.userinfo_endpoint,
			scope = excluded.scope,
			updated_at = excluded.updated_at`,
		s.Provider, s.Enabled, s.ClientID, s.ClientSecret,
		nullString(s.AuthorizationEndpoint), nullString(s.TokenEndpoint),
		nullString(s.UserinfoEndpoint), nullString(s.Scope),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save setting %q: %w", s.Provider, err)
	}
	return nil
}

// DeleteSetting returns federation.ErrNotFound when no row matched.
func (r *ProviderSettingRepository) DeleteSetting(ctx context.Context, provider string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_settings WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", provider, err)
	}
	if n == 0 {
		return federation.ErrNotFound
	}
	return nil
}

func scanSetting(row rowScanner) (*federation.ProviderSetting, error) {
	var (
		s                          federation.ProviderSetting
		authURL, tokenURL, infoURL sql.NullString
		scope                      sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(&s.Provider, &s.Enabled, &s.ClientID, &s.ClientSecret,
		&authURL, &tokenURL, &infoURL, &scope, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, federation.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan setting: %w", err)
	}

	s.AuthorizationEndpoint = authURL.String
	s.TokenEndpoint = tokenURL.String
	s.UserinfoEndpoint = infoURL.String
	s.Scope = scope.String

	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
