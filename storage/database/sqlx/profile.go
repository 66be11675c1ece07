package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

const profileColumns = "id, role, name, username, email, password_hash, admin_id, is_active, created_at, updated_at, last_login"

type profileRow struct {
	ID           string      `db:"id"`
	Role         string      `db:"role"`
	Name         string      `db:"name"`
	Username     null.String `db:"username"`
	Email        null.String `db:"email"`
	PasswordHash null.Bytes  `db:"password_hash"`
	AdminID      null.String `db:"admin_id"`
	IsActive     bool        `db:"is_active"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

func newProfileRow(p profile.Profile) profileRow {
	return profileRow{
		ID:           p.ID,
		Role:         p.Role,
		Name:         p.Name,
		Username:     nullString(p.Username),
		Email:        nullString(p.Email),
		PasswordHash: null.NewBytes(p.PasswordHash, len(p.PasswordHash) > 0),
		AdminID:      nullString(p.AdminID),
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
		LastLogin:    nullTime(p.LastLogin),
	}
}

func (row profileRow) profile() profile.Profile {
	return profile.Profile{
		ID:           row.ID,
		Role:         row.Role,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		PasswordHash: row.PasswordHash.Bytes,
		AdminID:      row.AdminID.String,
		IsActive:     row.IsActive,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		LastLogin:    utc(row.LastLogin),
	}
}

type profileRepository struct {
	db core.DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db core.DB) *profileRepository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) CheckUniqueness(ctx context.Context, username, email string, excluded ...profile.Profile) error {
	var match where
	switch {
	case username != "" && email != "":
		match.add("(username = ? OR email = ?)", username, email)
	case username != "":
		match.add("username = ?", username)
	case email != "":
		match.add("email = ?", email)
	default:
		return nil
	}
	if len(excluded) > 0 {
		ids := make([]string, 0, len(excluded))
		for _, p := range excluded {
			ids = append(ids, p.ID)
		}
		match.add("id NOT IN (?)", ids)
	}

	query, args, err := sqlx.In("SELECT username, email FROM profiles"+match.String()+" LIMIT 1", match.args...)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}
	var found struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	if err = repo.db.GetContext(ctx, &found, repo.db.Rebind(query), args...); err != nil {
		return trapNoRowsErr(err, nil, "checking profile uniqueness")
	}
	if username != "" && found.Username.String == username {
		return profile.ErrUsernameExists
	}
	return profile.ErrEmailExists
}

func (repo *profileRepository) CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO profiles (`+profileColumns+`)
		VALUES (:id, :role, :name, :username, :email, :password_hash, :admin_id, :is_active, :created_at, :updated_at, :last_login)`,
		newProfileRow(p))
	if err != nil {
		if isUniqueViolation(err) {
			return profile.Profile{}, profile.ErrUsernameExists
		}
		return profile.Profile{}, errors.Wrap(err, "inserting profile")
	}
	return p, nil
}

func (repo *profileRepository) GetProfile(ctx context.Context, filter profile.GetFilter) (profile.Profile, error) {
	var cond string
	var arg string
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return profile.Profile{}, profile.ErrNotFound
		}
		cond, arg = "id = $1", filter.ID
	case filter.Username != "":
		cond, arg = "username = $1", filter.Username
	case filter.Email != "":
		cond, arg = "email = $1", filter.Email
	default:
		return profile.Profile{}, profile.ErrNotFound
	}

	var row profileRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+profileColumns+" FROM profiles WHERE "+cond, arg); err != nil {
		return profile.Profile{}, trapNoRowsErr(err, profile.ErrNotFound, "getting profile")
	}
	return row.profile(), nil
}

func (repo *profileRepository) QueryProfiles(ctx context.Context, filter *profile.QueryFilter, ordering []core.DBOrdering) ([]profile.Profile, error) {
	var w where
	if filter != nil {
		// profiles with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", val, val, val)
		}
		if len(filter.Roles) > 0 {
			w.add("role IN (?)", filter.Roles)
		}
		if filter.AdminID != "" {
			w.add("admin_id = ?", filter.AdminID)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	query := "SELECT " + profileColumns + " FROM profiles" + w.String() +
		orderBy(ordering, "", core.DBOrdering{Field: "created_at", Ascending: true})
	query, args, err := sqlx.In(query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "building profiles query")
	}

	var rows []profileRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying profiles")
	}
	profiles := make([]profile.Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.profile())
	}
	return profiles, nil
}

func (repo *profileRepository) CountStudents(ctx context.Context, adminID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM profiles WHERE role = $1 AND admin_id = $2", profile.RoleStudent, adminID)
	return n, errors.Wrap(err, "counting students")
}

func (repo *profileRepository) UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE profiles SET
		role = :role, name = :name, username = :username, email = :email, password_hash = :password_hash,
		is_active = :is_active, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`, newProfileRow(p))
	if err != nil {
		if isUniqueViolation(err) {
			return profile.Profile{}, profile.ErrUsernameExists
		}
		return profile.Profile{}, errors.Wrap(err, "updating profile")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return profile.Profile{}, profile.ErrNotFound
	}
	return p, nil
}

func (repo *profileRepository) DeleteProfilesByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM profiles WHERE id IN (?)", ids)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting profiles")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "counting deleted profiles")
}
