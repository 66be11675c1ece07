package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/vocabulary"
)

const vocabularyColumns = "id, student_id, module_id, word, definition, created_at"

type entryRow struct {
	ID         string      `db:"id"`
	StudentID  string      `db:"student_id"`
	ModuleID   null.String `db:"module_id"`
	Word       string      `db:"word"`
	Definition string      `db:"definition"`
	CreatedAt  time.Time   `db:"created_at"`
}

func (row entryRow) entry() vocabulary.Entry {
	return vocabulary.Entry{
		ID:         row.ID,
		StudentID:  row.StudentID,
		ModuleID:   row.ModuleID.String,
		Word:       row.Word,
		Definition: row.Definition,
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

type vocabularyRepository struct {
	db core.DB
}

var _ vocabulary.Repository = (*vocabularyRepository)(nil) // interface compliance check

func NewVocabularyRepository(db core.DB) *vocabularyRepository {
	return &vocabularyRepository{db: db}
}

func (repo *vocabularyRepository) CreateEntry(ctx context.Context, e vocabulary.Entry) (vocabulary.Entry, error) {
	e.ID = newID()
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO vocabulary_entries (`+vocabularyColumns+`)
		VALUES (:id, :student_id, :module_id, :word, :definition, :created_at)`,
		entryRow{
			ID:         e.ID,
			StudentID:  e.StudentID,
			ModuleID:   nullString(e.ModuleID),
			Word:       e.Word,
			Definition: e.Definition,
			CreatedAt:  e.CreatedAt.UTC(),
		})
	if err != nil {
		if isUniqueViolation(err) {
			return vocabulary.Entry{}, vocabulary.ErrWordExists
		}
		return vocabulary.Entry{}, errors.Wrap(err, "inserting vocabulary entry")
	}
	return e, nil
}

func (repo *vocabularyRepository) GetEntry(ctx context.Context, id string) (vocabulary.Entry, error) {
	if !validIDs(id) {
		return vocabulary.Entry{}, vocabulary.ErrNotFound
	}
	var row entryRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+vocabularyColumns+" FROM vocabulary_entries WHERE id = $1", id); err != nil {
		return vocabulary.Entry{}, trapNoRowsErr(err, vocabulary.ErrNotFound, "getting vocabulary entry")
	}
	return row.entry(), nil
}

func (repo *vocabularyRepository) QueryEntries(ctx context.Context, filter *vocabulary.QueryFilter, ordering []core.DBOrdering) ([]vocabulary.Entry, error) {
	var w where
	if filter != nil {
		if !validIDs(filter.StudentID, filter.ModuleID) {
			return []vocabulary.Entry{}, nil
		}
		if filter.StudentID != "" {
			w.add("student_id = ?", filter.StudentID)
		}
		if filter.ModuleID != "" {
			w.add("module_id = ?", filter.ModuleID)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(word ILIKE ? OR definition ILIKE ?)", val, val)
		}
	}

	query := "SELECT " + vocabularyColumns + " FROM vocabulary_entries" + w.String() + orderBy(ordering, "")
	var rows []entryRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying vocabulary")
	}
	entries := make([]vocabulary.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

func (repo *vocabularyRepository) DeleteEntry(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM vocabulary_entries WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting vocabulary entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return vocabulary.ErrNotFound
	}
	return nil
}
