package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/module"
)

const moduleColumns = "id, admin_id, title, description, level, is_curated, paragraphs, created_at, updated_at"

type moduleRow struct {
	ID          string         `db:"id"`
	AdminID     null.String    `db:"admin_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Level       string         `db:"level"`
	IsCurated   bool           `db:"is_curated"`
	Paragraphs  pq.StringArray `db:"paragraphs"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func newModuleRow(m module.Module) moduleRow {
	return moduleRow{
		ID:          m.ID,
		AdminID:     nullString(m.AdminID),
		Title:       m.Title,
		Description: m.Description,
		Level:       m.Level,
		IsCurated:   m.IsCurated,
		Paragraphs:  pq.StringArray(m.Paragraphs),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func (row moduleRow) module() module.Module {
	return module.Module{
		ID:          row.ID,
		AdminID:     row.AdminID.String,
		Title:       row.Title,
		Description: row.Description,
		Level:       row.Level,
		IsCurated:   row.IsCurated,
		Paragraphs:  []string(row.Paragraphs),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

type moduleRepository struct {
	db core.DB
}

var _ module.Repository = (*moduleRepository)(nil) // interface compliance check

func NewModuleRepository(db core.DB) *moduleRepository {
	return &moduleRepository{db: db}
}

func (repo *moduleRepository) CreateModule(ctx context.Context, m module.Module) (module.Module, error) {
	m.ID = newID()
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO reading_modules (`+moduleColumns+`)
		VALUES (:id, :admin_id, :title, :description, :level, :is_curated, :paragraphs, :created_at, :updated_at)`,
		newModuleRow(m))
	if err != nil {
		return module.Module{}, errors.Wrap(err, "inserting module")
	}
	return m, nil
}

func (repo *moduleRepository) GetModule(ctx context.Context, id string) (module.Module, error) {
	if _, err := uuid.Parse(id); err != nil {
		return module.Module{}, module.ErrNotFound
	}
	var row moduleRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+moduleColumns+" FROM reading_modules WHERE id = $1", id); err != nil {
		return module.Module{}, trapNoRowsErr(err, module.ErrNotFound, "getting module")
	}
	return row.module(), nil
}

func (repo *moduleRepository) QueryModules(ctx context.Context, filter *module.QueryFilter, ordering []core.DBOrdering) ([]module.Module, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(title ILIKE ? OR description ILIKE ?)", val, val)
		}
		if filter.Level != "" {
			w.add("level = ?", filter.Level)
		}
		if filter.Curated != nil {
			w.add("is_curated = ?", *filter.Curated)
		}
		if filter.VisibleTo != "" {
			w.add("(is_curated OR admin_id = ?)", filter.VisibleTo)
		}
		if filter.AssignedTo != "" {
			w.add("id IN (SELECT module_id FROM student_progress WHERE student_id = ?)", filter.AssignedTo)
		}
	}

	query := "SELECT " + moduleColumns + " FROM reading_modules" + w.String() +
		orderBy(ordering, "", core.DBOrdering{Field: "created_at"})
	var rows []moduleRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying modules")
	}
	mods := make([]module.Module, 0, len(rows))
	for _, row := range rows {
		mods = append(mods, row.module())
	}
	return mods, nil
}

func (repo *moduleRepository) UpdateModule(ctx context.Context, m module.Module) (module.Module, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE reading_modules SET
		title = :title, description = :description, level = :level, is_curated = :is_curated,
		paragraphs = :paragraphs, updated_at = :updated_at
		WHERE id = :id`, newModuleRow(m))
	if err != nil {
		return module.Module{}, errors.Wrap(err, "updating module")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return module.Module{}, module.ErrNotFound
	}
	return m, nil
}

func (repo *moduleRepository) DeleteModule(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM reading_modules WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting module")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return module.ErrNotFound
	}
	return nil
}
