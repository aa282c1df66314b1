package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

const userColumns = `id, COALESCE(name, ''), COALESCE(email, ''), COALESCE(github_username, ''),
	is_authorized, is_admin, last_sign_in_at, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.GithubUsername,
		&u.IsAuthorized, &u.IsAdmin, &u.LastSignInAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUserByID fetches an allow-list entry by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUserByGithubUsername matches the username case-insensitively.
func (r *Repository) GetUserByGithubUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE LOWER(github_username) = LOWER($1)`
	u, err := scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(username)))
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// ListUsers returns every allow-list entry, newest first.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError(err)
		}
		users = append(users, u)
	}
	return users, mapError(rows.Err())
}

// UpsertUserAuthorization creates or updates the allow-list row for the grant's
// identity. Admin is only changed when the grant sets it.
func (r *Repository) UpsertUserAuthorization(ctx context.Context, grant repository.AuthorizationGrant) (*domain.User, error) {
	var admin any
	if grant.Admin != nil {
		admin = *grant.Admin
	}
	var query string
	key := strings.TrimSpace(grant.GithubUsername)
	if key != "" {
		query = `INSERT INTO users (id, github_username, email, name, is_authorized, is_admin, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, COALESCE($6, FALSE), $7, $7)
			ON CONFLICT (github_username) DO UPDATE SET
				email = COALESCE(EXCLUDED.email, users.email),
				name = COALESCE(EXCLUDED.name, users.name),
				is_authorized = EXCLUDED.is_authorized,
				is_admin = COALESCE($6, users.is_admin),
				updated_at = EXCLUDED.updated_at
			RETURNING ` + userColumns
	} else {
		query = `INSERT INTO users (id, github_username, email, name, is_authorized, is_admin, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, COALESCE($6, FALSE), $7, $7)
			ON CONFLICT (email) DO UPDATE SET
				name = COALESCE(EXCLUDED.name, users.name),
				is_authorized = EXCLUDED.is_authorized,
				is_admin = COALESCE($6, users.is_admin),
				updated_at = EXCLUDED.updated_at
			RETURNING ` + userColumns
	}
	u, err := scanUser(r.pool.QueryRow(ctx, query,
		grant.NewID,
		nilIfEmpty(key),
		nilIfEmpty(grant.Email),
		nilIfEmpty(grant.Name),
		grant.Authorize,
		admin,
		grant.At.UTC(),
	))
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// RecordSignIn stamps the sign-in time and refreshes profile fields the gateway supplied.
func (r *Repository) RecordSignIn(ctx context.Context, signIn repository.SignIn) error {
	const query = `UPDATE users SET last_sign_in_at = $2,
			name = COALESCE($3, name),
			email = COALESCE($4, email),
			updated_at = $2
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, signIn.UserID, signIn.At.UTC(), nilIfEmpty(signIn.Name), nilIfEmpty(signIn.Email))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
