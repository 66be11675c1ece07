package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/progress"
)

const progressSelect = `SELECT sp.id, sp.student_id, sp.module_id, sp.status, sp.current_paragraph,
	sp.assigned_at, sp.started_at, sp.completed_at, sp.updated_at,
	p.name AS student_name, COALESCE(p.username, '') AS student_username,
	m.title AS module_title, COALESCE(array_length(m.paragraphs, 1), 0) AS paragraph_count
	FROM student_progress sp
	JOIN profiles p ON p.id = sp.student_id
	JOIN reading_modules m ON m.id = sp.module_id`

type progressRow struct {
	ID               string    `db:"id"`
	StudentID        string    `db:"student_id"`
	ModuleID         string    `db:"module_id"`
	Status           string    `db:"status"`
	CurrentParagraph int       `db:"current_paragraph"`
	AssignedAt       time.Time `db:"assigned_at"`
	StartedAt        null.Time `db:"started_at"`
	CompletedAt      null.Time `db:"completed_at"`
	UpdatedAt        time.Time `db:"updated_at"`

	StudentName     string `db:"student_name"`
	StudentUsername string `db:"student_username"`
	ModuleTitle     string `db:"module_title"`
	ParagraphCount  int    `db:"paragraph_count"`
}

func newProgressRow(p progress.Progress) progressRow {
	return progressRow{
		ID:               p.ID,
		StudentID:        p.StudentID,
		ModuleID:         p.ModuleID,
		Status:           p.Status,
		CurrentParagraph: p.CurrentParagraph,
		AssignedAt:       p.AssignedAt.UTC(),
		StartedAt:        nullTime(p.StartedAt),
		CompletedAt:      nullTime(p.CompletedAt),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func (row progressRow) progress() progress.Progress {
	return progress.Progress{
		ID:               row.ID,
		StudentID:        row.StudentID,
		ModuleID:         row.ModuleID,
		Status:           row.Status,
		CurrentParagraph: row.CurrentParagraph,
		AssignedAt:       row.AssignedAt.UTC(),
		StartedAt:        utc(row.StartedAt),
		CompletedAt:      utc(row.CompletedAt),
		UpdatedAt:        row.UpdatedAt.UTC(),
		StudentName:      row.StudentName,
		StudentUsername:  row.StudentUsername,
		ModuleTitle:      row.ModuleTitle,
		ParagraphCount:   row.ParagraphCount,
	}
}

type submissionRow struct {
	ID             string    `db:"id"`
	StudentID      string    `db:"student_id"`
	ModuleID       string    `db:"module_id"`
	ParagraphIndex int       `db:"paragraph_index"`
	Summary        string    `db:"summary"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row submissionRow) submission() progress.Submission {
	return progress.Submission{
		ID:             row.ID,
		StudentID:      row.StudentID,
		ModuleID:       row.ModuleID,
		ParagraphIndex: row.ParagraphIndex,
		Summary:        row.Summary,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

type progressRepository struct {
	db core.DB
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db core.DB) *progressRepository {
	return &progressRepository{db: db}
}

// Assign creates the missing progress rows and returns them with their student and module details.
func (repo *progressRepository) Assign(ctx context.Context, moduleID string, studentIDs []string, at time.Time) ([]progress.Progress, error) {
	created := make([]progress.Progress, 0, len(studentIDs))
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, sid := range studentIDs {
			p := progress.Progress{
				ID:         newID(),
				StudentID:  sid,
				ModuleID:   moduleID,
				Status:     progress.StatusNotStarted,
				AssignedAt: at.UTC(),
				UpdatedAt:  at.UTC(),
			}
			res, err := tx.NamedExecContext(ctx, `INSERT INTO student_progress
				(id, student_id, module_id, status, current_paragraph, assigned_at, updated_at)
				VALUES (:id, :student_id, :module_id, :status, :current_paragraph, :assigned_at, :updated_at)
				ON CONFLICT (student_id, module_id) DO NOTHING`, newProgressRow(p))
			if err != nil {
				return errors.Wrap(err, "inserting progress")
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				created = append(created, p)
			}
		}
		return repo.reload(ctx, tx, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// reload replaces list items by their row joined with the student and module.
func (repo *progressRepository) reload(ctx context.Context, tx *sqlx.Tx, list []progress.Progress) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	query, args, err := sqlx.In(progressSelect+" WHERE sp.id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "building select query")
	}
	var rows []progressRow
	if err = tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "selecting created progress")
	}
	byID := make(map[string]progress.Progress, len(rows))
	for _, row := range rows {
		byID[row.ID] = row.progress()
	}
	for i, p := range list {
		if full, ok := byID[p.ID]; ok {
			list[i] = full
		}
	}
	return nil
}

func (repo *progressRepository) Unassign(ctx context.Context, moduleID string, studentIDs ...string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM student_progress WHERE module_id = ? AND student_id IN (?)", moduleID, studentIDs)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting progress")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "counting deleted progress")
}

func (repo *progressRepository) GetProgress(ctx context.Context, studentID, moduleID string) (progress.Progress, error) {
	if !validIDs(studentID, moduleID) {
		return progress.Progress{}, progress.ErrNotFound
	}
	var row progressRow
	err := repo.db.GetContext(ctx, &row, progressSelect+" WHERE sp.student_id = $1 AND sp.module_id = $2", studentID, moduleID)
	if err != nil {
		return progress.Progress{}, trapNoRowsErr(err, progress.ErrNotFound, "getting progress")
	}
	return row.progress(), nil
}

const updateProgressQuery = `UPDATE student_progress SET
	status = :status, current_paragraph = :current_paragraph, started_at = :started_at,
	completed_at = :completed_at, updated_at = :updated_at
	WHERE id = :id`

func (repo *progressRepository) UpdateProgress(ctx context.Context, p progress.Progress) (progress.Progress, error) {
	res, err := repo.db.NamedExecContext(ctx, updateProgressQuery, newProgressRow(p))
	if err != nil {
		return progress.Progress{}, errors.Wrap(err, "updating progress")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return progress.Progress{}, progress.ErrNotFound
	}
	return p, nil
}

func (repo *progressRepository) SaveSubmission(ctx context.Context, p progress.Progress, s progress.Submission) (progress.Progress, progress.Submission, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, updateProgressQuery, newProgressRow(p)); err != nil {
			return errors.Wrap(err, "updating progress")
		}

		row := tx.QueryRowxContext(ctx, `INSERT INTO paragraph_submissions
			(id, student_id, module_id, paragraph_index, summary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (student_id, module_id, paragraph_index)
			DO UPDATE SET summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at
			RETURNING id, created_at`,
			newID(), s.StudentID, s.ModuleID, s.ParagraphIndex, s.Summary, s.CreatedAt.UTC(), s.UpdatedAt.UTC())
		return errors.Wrap(row.Scan(&s.ID, &s.CreatedAt), "upserting submission")
	})
	if err != nil {
		return progress.Progress{}, progress.Submission{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return p, s, nil
}

func (repo *progressRepository) QuerySubmissions(ctx context.Context, studentID, moduleID string) ([]progress.Submission, error) {
	var rows []submissionRow
	err := repo.db.SelectContext(ctx, &rows, `SELECT id, student_id, module_id, paragraph_index, summary, created_at, updated_at
		FROM paragraph_submissions WHERE student_id = $1 AND module_id = $2 ORDER BY paragraph_index`, studentID, moduleID)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]progress.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.submission())
	}
	return subs, nil
}

func (repo *progressRepository) QueryProgress(ctx context.Context, filter *progress.QueryFilter, ordering []core.DBOrdering) ([]progress.Progress, error) {
	var w where
	if filter != nil {
		if !validIDs(filter.StudentID, filter.ModuleID) {
			return []progress.Progress{}, nil
		}
		if filter.StudentID != "" {
			w.add("sp.student_id = ?", filter.StudentID)
		}
		if filter.ModuleID != "" {
			w.add("sp.module_id = ?", filter.ModuleID)
		}
		if filter.Status != "" {
			w.add("sp.status = ?", filter.Status)
		}
		if filter.AdminID != "" {
			w.add("p.admin_id = ?", filter.AdminID)
		}
	}

	query := progressSelect + w.String() + orderBy(ordering, "sp.", core.DBOrdering{Field: "assigned_at"})
	var rows []progressRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}
	list := make([]progress.Progress, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.progress())
	}
	return list, nil
}
