package progress

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noteearly/noteearly/core"
)

// Statuses
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

var Statuses = []string{StatusNotStarted, StatusInProgress, StatusCompleted}

// Progress tracks a Student's reading of an assigned Module.
// CurrentParagraph is the index of the next paragraph to summarize.
type Progress struct {
	ID               string    `json:"id"`
	StudentID        string    `json:"student_id"`
	ModuleID         string    `json:"module_id"`
	Status           string    `json:"status"`
	CurrentParagraph int       `json:"current_paragraph"`
	AssignedAt       time.Time `json:"assigned_at"`  // UTC
	StartedAt        time.Time `json:"started_at"`   // UTC
	CompletedAt      time.Time `json:"completed_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"`   // UTC

	// read-only, filled on queries
	StudentName     string `json:"student_name,omitempty"`
	StudentUsername string `json:"student_username,omitempty"`
	ModuleTitle     string `json:"module_title,omitempty"`
	ParagraphCount  int    `json:"paragraph_count,omitempty"`
}

// start moves a not started Progress to in progress.
func (p *Progress) start(now time.Time) bool {
	if p.Status != StatusNotStarted {
		return false
	}
	p.Status = StatusInProgress
	p.StartedAt = now
	p.UpdatedAt = now
	return true
}

// Submission is a Student's summary of one paragraph of a Module.
type Submission struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	ModuleID       string    `json:"module_id"`
	ParagraphIndex int       `json:"paragraph_index"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

type NewSubmission struct {
	ParagraphIndex *int   `json:"paragraph_index" validate:"required,min=0"`
	Summary        string `json:"summary" validate:"required,max=5000"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.Summary = core.CleanString(ns.Summary)
	return validate.Struct(ns)
}

// Assignment lists the Students a Module is assigned to (or unassigned from).
type Assignment struct {
	StudentIDs []string `json:"student_ids" query:"student_id" validate:"required,min=1,dive,required"`
}

func (a *Assignment) Validate(validate *validator.Validate) error {
	ids := make([]string, 0, len(a.StudentIDs))
	for _, id := range a.StudentIDs {
		if id = core.CleanString(id); id != "" && !core.StringInSlice(id, ids) {
			ids = append(ids, id)
		}
	}
	a.StudentIDs = ids
	return validate.Struct(a)
}

type QueryFilter struct {
	StudentID string `query:"student_id"`
	ModuleID  string `query:"module_id"`
	Status    string `query:"status"`

	// AdminID restricts to the Students managed by this Admin.
	AdminID string
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.ModuleID = core.CleanString(qf.ModuleID)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	if !core.StringInSlice(qf.Status, Statuses) {
		qf.Status = ""
	}
}

// OrderingFields are the fields progress may be ordered by.
var OrderingFields = []string{"status", "current_paragraph", "assigned_at", "started_at", "completed_at", "updated_at"}
