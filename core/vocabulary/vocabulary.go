package vocabulary

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

var (
	// errors
	ErrNotFound   = errors.New("vocabulary entry not found")
	ErrWordExists = errors.New("this word is already in your vocabulary")
)

// Entry is a word a Student collected, optionally while reading a Module.
type Entry struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	ModuleID   string    `json:"module_id,omitempty"`
	Word       string    `json:"word"`
	Definition string    `json:"definition"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}

type NewEntry struct {
	Word       string `json:"word" validate:"required,max=255"`
	Definition string `json:"definition" validate:"max=2000"`
	ModuleID   string `json:"module_id" validate:"omitempty,uuid"`
}

func (ne *NewEntry) Validate(validate *validator.Validate) error {
	ne.Word = core.CleanString(ne.Word)
	ne.Definition = core.CleanString(ne.Definition)
	ne.ModuleID = core.CleanString(ne.ModuleID)
	return validate.Struct(ne)
}

type QueryFilter struct {
	StudentID string `query:"student_id"`
	ModuleID  string `query:"module_id"`
	Search    string `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.ModuleID = core.CleanString(qf.ModuleID)
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields are the fields entries may be ordered by.
var OrderingFields = []string{"word", "created_at"}

type (
	Repository interface {
		// CreateEntry returns ErrWordExists when the Student already has the word (case-insensitively).
		CreateEntry(ctx context.Context, e Entry) (Entry, error)
		GetEntry(ctx context.Context, id string) (Entry, error)
		QueryEntries(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Entry, error)
		DeleteEntry(ctx context.Context, id string) error
	}

	// AssignmentChecker reports whether a Module is assigned to a Student.
	AssignmentChecker interface {
		IsAssigned(ctx context.Context, studentID, moduleID string) (bool, error)
	}

	Service struct {
		repo        Repository
		assignments AssignmentChecker
	}
)

func NewService(repo Repository, assignments AssignmentChecker) *Service {
	return &Service{repo: repo, assignments: assignments}
}

func (svc *Service) Add(ctx context.Context, student profile.Profile, ne NewEntry) (Entry, error) {
	if !student.IsStudent() {
		return Entry{}, core.ErrForbidden
	}
	if ne.ModuleID != "" {
		ok, err := svc.assignments.IsAssigned(ctx, student.ID, ne.ModuleID)
		if err != nil {
			return Entry{}, errors.Wrap(err, "checking assignment")
		}
		if !ok {
			return Entry{}, core.NewValidationError(nil, core.FieldError{Field: "module_id", Error: "this module is not assigned to you"})
		}
	}

	e, err := svc.repo.CreateEntry(ctx, Entry{
		StudentID:  student.ID,
		ModuleID:   ne.ModuleID,
		Word:       ne.Word,
		Definition: ne.Definition,
		CreatedAt:  core.NowFunc().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrWordExists {
			return Entry{}, core.NewValidationError(err, core.FieldError{Field: "word", Error: ErrWordExists.Error()})
		}
		return Entry{}, errors.Wrap(err, "creating entry")
	}
	return e, nil
}

// Query lists the vocabulary of a Student.
func (svc *Service) Query(ctx context.Context, studentID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Entry, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.StudentID = studentID
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "word", Ascending: true}}
	}
	return svc.repo.QueryEntries(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

// Delete removes one of the Student's entries. Entries of other Students are reported as not found.
func (svc *Service) Delete(ctx context.Context, student profile.Profile, id string) error {
	e, err := svc.repo.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.StudentID != student.ID {
		return ErrNotFound
	}
	return svc.repo.DeleteEntry(ctx, id)
}
