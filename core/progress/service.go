package progress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/profile"
)

var (
	// errors
	ErrNotFound    = errors.New("progress not found")
	ErrNotAssigned = core.NewAppError("this module is not assigned to you", http.StatusForbidden)
)

type (
	Repository interface {
		// Assign creates not started Progress rows for the Students the Module is not yet assigned to.
		// It returns the created rows only.
		Assign(ctx context.Context, moduleID string, studentIDs []string, at time.Time) ([]Progress, error)
		Unassign(ctx context.Context, moduleID string, studentIDs ...string) (int, error)
		GetProgress(ctx context.Context, studentID, moduleID string) (Progress, error)
		UpdateProgress(ctx context.Context, p Progress) (Progress, error)
		// SaveSubmission upserts the Submission (by student, module and paragraph) and saves p, atomically.
		SaveSubmission(ctx context.Context, p Progress, s Submission) (Progress, Submission, error)
		QuerySubmissions(ctx context.Context, studentID, moduleID string) ([]Submission, error)
		// QueryProgress applies AND operation on available QueryFilter fields.
		QueryProgress(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Progress, error)
	}

	Service struct {
		repo     Repository
		profiles *profile.Service
	}
)

func NewService(repo Repository, profiles *profile.Service) *Service {
	return &Service{repo: repo, profiles: profiles}
}

// resolveStudents checks that every ID is a Student managed by actor.
func (svc *Service) resolveStudents(ctx context.Context, actor profile.Profile, ids []string) error {
	for _, id := range ids {
		if _, err := svc.profiles.GetStudentFor(ctx, actor, id); err != nil {
			if errors.Cause(err) == profile.ErrNotFound {
				return core.NewValidationError(nil, core.FieldError{
					Field: "student_ids",
					Error: fmt.Sprintf("student %q not found", id),
				})
			}
			return errors.Wrap(err, "finding student")
		}
	}
	return nil
}

// Assign assigns the Module to actor's Students. Students it is already assigned to are skipped.
func (svc *Service) Assign(ctx context.Context, actor profile.Profile, m module.Module, a Assignment) ([]Progress, error) {
	if !module.CanRead(actor, m) {
		return nil, core.ErrForbidden
	}
	if err := svc.resolveStudents(ctx, actor, a.StudentIDs); err != nil {
		return nil, err
	}
	created, err := svc.repo.Assign(ctx, m.ID, a.StudentIDs, core.NowFunc().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "assigning module")
	}
	return created, nil
}

func (svc *Service) Unassign(ctx context.Context, actor profile.Profile, m module.Module, a Assignment) (int, error) {
	if !module.CanRead(actor, m) {
		return 0, core.ErrForbidden
	}
	if err := svc.resolveStudents(ctx, actor, a.StudentIDs); err != nil {
		return 0, err
	}
	n, err := svc.repo.Unassign(ctx, m.ID, a.StudentIDs...)
	return n, errors.Wrap(err, "unassigning module")
}

func (svc *Service) getAssigned(ctx context.Context, studentID, moduleID string) (Progress, error) {
	p, err := svc.repo.GetProgress(ctx, studentID, moduleID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Progress{}, ErrNotAssigned
		}
		return Progress{}, errors.Wrap(err, "getting progress")
	}
	return p, nil
}

// IsAssigned reports whether the Module is assigned to the Student.
func (svc *Service) IsAssigned(ctx context.Context, studentID, moduleID string) (bool, error) {
	if _, err := svc.getAssigned(ctx, studentID, moduleID); err != nil {
		if err == ErrNotAssigned {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Start marks an assigned Module as in progress. Starting an already started Module is a no-op.
func (svc *Service) Start(ctx context.Context, student profile.Profile, m module.Module) (Progress, error) {
	p, err := svc.getAssigned(ctx, student.ID, m.ID)
	if err != nil {
		return Progress{}, err
	}
	if !p.start(core.NowFunc().UTC()) {
		return p, nil
	}
	p, err = svc.repo.UpdateProgress(ctx, p)
	return p, errors.Wrap(err, "starting module")
}

// Submit saves the Student's summary of a paragraph.
// Paragraphs are summarized in order: the cursor only advances when the current paragraph is submitted,
// and the Module is completed once its last paragraph has been summarized.
func (svc *Service) Submit(ctx context.Context, student profile.Profile, m module.Module, ns NewSubmission) (Progress, Submission, error) {
	p, err := svc.getAssigned(ctx, student.ID, m.ID)
	if err != nil {
		return Progress{}, Submission{}, err
	}

	idx := *ns.ParagraphIndex
	if idx >= m.ParagraphCount() {
		return Progress{}, Submission{}, core.NewValidationError(nil, core.FieldError{
			Field: "paragraph_index",
			Error: fmt.Sprintf("this module only has %d paragraphs", m.ParagraphCount()),
		})
	}
	if idx > p.CurrentParagraph {
		return Progress{}, Submission{}, core.NewValidationError(nil, core.FieldError{
			Field: "paragraph_index",
			Error: fmt.Sprintf("paragraph %d must be summarized first", p.CurrentParagraph),
		})
	}

	now := core.NowFunc().UTC()
	p.start(now)
	if idx == p.CurrentParagraph {
		p.CurrentParagraph++
	}
	if p.CurrentParagraph >= m.ParagraphCount() && p.Status != StatusCompleted {
		p.Status = StatusCompleted
		p.CompletedAt = now
	}
	p.UpdatedAt = now

	sub := Submission{
		StudentID:      student.ID,
		ModuleID:       m.ID,
		ParagraphIndex: idx,
		Summary:        ns.Summary,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p, sub, err = svc.repo.SaveSubmission(ctx, p, sub)
	if err != nil {
		return Progress{}, Submission{}, errors.Wrap(err, "saving submission")
	}
	return p, sub, nil
}

func (svc *Service) ListSubmissions(ctx context.Context, studentID, moduleID string) ([]Submission, error) {
	if _, err := svc.getAssigned(ctx, studentID, moduleID); err != nil {
		return nil, err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, studentID, moduleID)
	return subs, errors.Wrap(err, "querying submissions")
}

// Query lists the Progress visible to actor: their own for Students, their Students' for Admins.
func (svc *Service) Query(ctx context.Context, actor profile.Profile, filter *QueryFilter, ordering []core.DBOrdering) ([]Progress, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.AdminID = ""
	switch {
	case actor.IsStudent():
		filter.StudentID = actor.ID
	case !actor.IsSuperAdmin():
		filter.AdminID = actor.ID
	}
	return svc.repo.QueryProgress(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}
