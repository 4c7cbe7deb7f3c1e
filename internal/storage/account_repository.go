package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"oauthfed/internal/federation"
	"oauthfed/pkg/db"
)

const identityColumns = `id, user_id, provider, remote_user_id, remote_email, remote_name,
	remote_avatar_url, access_token, refresh_token, token_expires_at, created_at, updated_at`

// AccountRepository stores users and linked identities in SQL.
type AccountRepository struct {
	db db.SQLExecutor
}

var _ federation.AccountStore = (*AccountRepository)(nil)

func NewAccountRepository(exec db.SQLExecutor) *AccountRepository {
	return &AccountRepository{db: exec}
}

func (r *AccountRepository) FindUserByID(ctx context.Context, id int64) (*federation.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// FindUserByEmail matches the stored address exactly.
func (r *AccountRepository) FindUserByEmail(ctx context.Context, email string) (*federation.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *AccountRepository) FindLinkedIdentity(ctx context.Context, provider, remoteUserID string) (*federation.LinkedIdentity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM linked_identities WHERE provider = ? AND remote_user_id = ?`,
		provider, remoteUserID)
	return scanIdentity(row)
}

// FindUserIdentity returns the user's most recently updated identity at provider.
func (r *AccountRepository) FindUserIdentity(ctx context.Context, userID int64, provider string) (*federation.LinkedIdentity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM linked_identities
		WHERE user_id = ? AND provider = ? ORDER BY updated_at DESC LIMIT 1`,
		userID, provider)
	return scanIdentity(row)
}

func (r *AccountRepository) ListLinkedIdentities(ctx context.Context, userID int64) ([]*federation.LinkedIdentity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM linked_identities WHERE user_id = ? ORDER BY provider, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var out []*federation.LinkedIdentity
	for rows.Next() {
		li, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identities: %w", err)
	}
	return out, nil
}

// SaveUser upserts the user and all of its attached identities atomically.
func (r *AccountRepository) SaveUser(ctx context.Context, user *federation.User) error {
	return r.db.WithTransaction(ctx, sql.LevelDefault, func(ctx context.Context, tx *sql.Tx) error {
		if err := upsertUser(ctx, tx, user); err != nil {
			return err
		}
		for _, li := range user.Identities {
			li.UserID = user.ID
			if err := upsertIdentity(ctx, tx, li); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *AccountRepository) SaveIdentity(ctx context.Context, identity *federation.LinkedIdentity) error {
	return upsertIdentity(ctx, r.db, identity)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertUser(ctx context.Context, exec execer, u *federation.User) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.Name, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return nil
}

// upsertIdentity is keyed on (provider, remote_user_id); the row id and
// owner of an existing identity never change.
func upsertIdentity(ctx context.Context, exec execer, li *federation.LinkedIdentity) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO linked_identities (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, remote_user_id) DO UPDATE SET
			remote_email = excluded.remote_email,
			remote_name = excluded.remote_name,
			remote_avatar_url = excluded.remote_avatar_url,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at`,
		li.ID, li.UserID, li.Provider, li.RemoteUserID,
		nullString(li.RemoteEmail), nullString(li.RemoteName), nullString(li.RemoteAvatarURL),
		li.AccessToken, nullString(li.RefreshToken), nullUnix(li.TokenExpiresAt),
		formatTime(li.CreatedAt), formatTime(li.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save identity %s/%s: %w", li.Provider, li.RemoteUserID, err)
	}
	return nil
}

func scanUser(row rowScanner) (*federation.User, error) {
	var (
		u                    federation.User
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, federation.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanIdentity(row rowScanner) (*federation.LinkedIdentity, error) {
	var (
		li                           federation.LinkedIdentity
		email, name, avatar, refresh sql.NullString
		expiresAt                    sql.NullInt64
		createdAt, updatedAt         string
	)
	err := row.Scan(&li.ID, &li.UserID, &li.Provider, &li.RemoteUserID,
		&email, &name, &avatar, &li.AccessToken, &refresh, &expiresAt,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, federation.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}

	li.RemoteEmail = email.String
	li.RemoteName = name.String
	li.RemoteAvatarURL = avatar.String
	li.RefreshToken = refresh.String
	li.TokenExpiresAt = timeFromUnix(expiresAt)

	if li.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if li.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &li, nil
}
