package module

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noteearly/noteearly/core"
)

// Levels
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

var (
	Levels = []string{LevelBeginner, LevelIntermediate, LevelAdvanced}

	blankLineRegex = regexp.MustCompile(`\n[ \t\r]*\n`)
)

// Module is a reading module: a text split into indexed paragraphs.
// Curated modules are authored by Super Admins and visible to every Admin.
type Module struct {
	ID          string    `json:"id"`
	AdminID     string    `json:"admin_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       string    `json:"level"`
	IsCurated   bool      `json:"is_curated"`
	Paragraphs  []string  `json:"paragraphs"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (m Module) ParagraphCount() int { return len(m.Paragraphs) }

// SplitParagraphs splits text into paragraphs on blank lines. Empty paragraphs are dropped.
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return cleanParagraphs(blankLineRegex.Split(text, -1))
}

func cleanParagraphs(raw []string) []string {
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

var errNoParagraphs = core.FieldError{Field: "text", Error: "the module must contain at least one paragraph"}

// NewModule contains the information needed to create a new Module.
// Either Text (split on blank lines) or Paragraphs must be provided.
type NewModule struct {
	Title       string   `json:"title" validate:"required,max=255"`
	Description string   `json:"description" validate:"max=2000"`
	Level       string   `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	IsCurated   bool     `json:"is_curated"`
	Text        string   `json:"text"`
	Paragraphs  []string `json:"paragraphs"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	nm.Level = core.CleanString(nm.Level, true /* lower */)
	if nm.Level == "" {
		nm.Level = LevelBeginner
	}
	if err := validate.Struct(nm); err != nil {
		return err
	}

	if nm.Text != "" {
		nm.Paragraphs = SplitParagraphs(nm.Text)
	} else {
		nm.Paragraphs = cleanParagraphs(nm.Paragraphs)
	}
	if len(nm.Paragraphs) == 0 {
		return core.NewValidationError(nil, errNoParagraphs)
	}
	return nil
}

// UpdateModule defines what may be changed on an existing Module. Empty fields keep their value.
type UpdateModule struct {
	Title       string   `json:"title" validate:"omitempty,max=255"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Level       string   `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	IsCurated   *bool    `json:"is_curated"`
	Text        string   `json:"text"`
	Paragraphs  []string `json:"paragraphs"`
}

func (um *UpdateModule) Validate(orig Module, validate *validator.Validate) error {
	if title := core.CleanString(um.Title); title != "" {
		um.Title = title
	} else {
		um.Title = orig.Title
	}
	if um.Description != nil {
		desc := core.CleanString(*um.Description)
		um.Description = &desc
	}
	if lvl := core.CleanString(um.Level, true /* lower */); lvl != "" {
		um.Level = lvl
	} else {
		um.Level = orig.Level
	}
	if err := validate.Struct(um); err != nil {
		return err
	}

	switch {
	case um.Text != "":
		um.Paragraphs = SplitParagraphs(um.Text)
	case um.Paragraphs != nil:
		um.Paragraphs = cleanParagraphs(um.Paragraphs)
	default:
		um.Paragraphs = orig.Paragraphs
	}
	if len(um.Paragraphs) == 0 {
		return core.NewValidationError(nil, errNoParagraphs)
	}
	return nil
}

type QueryFilter struct {
	Search  string `query:"search"`
	Level   string `query:"level"`
	Curated *bool

	// VisibleTo restricts to the Modules authored by this Admin plus the curated ones.
	VisibleTo string
	// AssignedTo restricts to the Modules assigned to this Student.
	AssignedTo string
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Level = core.CleanString(qf.Level, true /* lower */)
}

// OrderingFields are the fields modules may be ordered by.
var OrderingFields = []string{"title", "level", "is_curated", "created_at", "updated_at"}
