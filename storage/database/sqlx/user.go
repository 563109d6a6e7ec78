package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
)

const userColumns = `id, username, email, full_name, discord_username, role, academy_role, academy_id,
	is_active, password_hash, created_at, updated_at, last_login`

var userOrderColumns = map[string]string{
	"username":   "username",
	"email":      "email",
	"full_name":  "full_name",
	"role":       "role",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID              string      `db:"id"`
	Username        string      `db:"username"`
	Email           string      `db:"email"`
	FullName        string      `db:"full_name"`
	DiscordUsername null.String `db:"discord_username"`
	Role            string      `db:"role"`
	AcademyRole     null.String `db:"academy_role"`
	AcademyID       null.String `db:"academy_id"`
	IsActive        bool        `db:"is_active"`
	PasswordHash    []byte      `db:"password_hash"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
	LastLogin       null.Time   `db:"last_login"`
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) toRow(usr user.User) userRow {
	return userRow{
		ID:              usr.ID,
		Username:        usr.Username,
		Email:           usr.Email,
		FullName:        usr.FullName,
		DiscordUsername: nullString(usr.DiscordUsername),
		Role:            usr.Role,
		AcademyRole:     nullString(usr.AcademyRole),
		AcademyID:       nullString(usr.AcademyID),
		IsActive:        usr.IsActive,
		PasswordHash:    usr.PasswordHash,
		CreatedAt:       usr.CreatedAt.UTC(),
		UpdatedAt:       usr.UpdatedAt.UTC(),
		LastLogin:       nullTime(usr.LastLogin),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	return user.User{
		ID:              row.ID,
		Username:        row.Username,
		Email:           row.Email,
		FullName:        row.FullName,
		DiscordUsername: row.DiscordUsername.String,
		Role:            row.Role,
		AcademyRole:     row.AcademyRole.String,
		AcademyID:       row.AcademyID.String,
		IsActive:        row.IsActive,
		PasswordHash:    row.PasswordHash,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		LastLogin:       row.LastLogin.Time,
	}
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	args := []interface{}{username, email}
	q := "SELECT username, email FROM users WHERE (username = ? OR email = ?)"
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q += " AND id NOT IN (?)"
		args = append(args, ids)
	}

	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err := selectIn(ctx, repo.db, &rows, q+" LIMIT 1", args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if len(rows) > 0 {
		if rows[0].Username == username {
			return user.ErrUsernameExists
		}
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (
		:id, :username, :email, :full_name, :discord_username, :role, :academy_role, :academy_id,
		:is_active, :password_hash, :created_at, :updated_at, :last_login)`, repo.toRow(usr))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		// users with FullName, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			where = append(where, "(full_name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			args = append(args, val, val, val)
		}
		if filter.Role != "" {
			where = append(where, "role = ?")
			args = append(args, filter.Role)
		}
		if filter.AcademyRole != "" {
			where = append(where, "academy_role = ?")
			args = append(args, filter.AcademyRole)
		}
		if filter.AcademyID != "" {
			where = append(where, "academy_id = ?")
			args = append(args, filter.AcademyID)
		}
		if filter.IsActive != nil {
			where = append(where, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + core.OrderByClause(ordering, userOrderColumns, "created_at DESC")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		row userRow
		err error
	)
	switch {
	case filter.ID != "":
		if _, err = uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		err = repo.db.GetContext(ctx, &row, "SELECT "+userColumns+" FROM users WHERE id = $1", filter.ID)
	case filter.UsernameOrEmail != "":
		err = repo.db.GetContext(ctx, &row, "SELECT "+userColumns+" FROM users WHERE username = $1 OR email = $1 LIMIT 1", filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE users SET
		username = :username, email = :email, full_name = :full_name, discord_username = :discord_username,
		role = :role, academy_role = :academy_role, academy_id = :academy_id, is_active = :is_active,
		password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`, repo.toRow(usr))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "deleting users")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
