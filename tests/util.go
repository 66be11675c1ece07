package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zaptest"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/profile"
	logsvc "github.com/noteearly/noteearly/services/logger"
)

// NewLogger returns a logger writing to the test log. Rollbar reporting is disabled.
func NewLogger(t *testing.T, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zaptest.NewLogger(t), conf)
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator with the app validators registered.
func NewValidator() *validator.Validate {
	validate, _ := NewTranslatedValidator()
	return validate
}

// NewTranslatedValidator returns a validator and the translator its messages are registered on.
// Field errors only translate with that same translator.
func NewTranslatedValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	return validate, translator
}

func tstamp(createdAt []time.Time) time.Time {
	if len(createdAt) > 0 {
		return createdAt[0].UTC()
	}
	return time.Now().UTC()
}

func CreateAdmin(t *testing.T, repo profile.Repository, name, email string, superAdmin bool, createdAt ...time.Time) profile.Profile {
	t.Helper()
	ts := tstamp(createdAt)
	role := profile.RoleAdmin
	if superAdmin {
		role = profile.RoleSuperAdmin
	}
	p, err := repo.CreateProfile(context.Background(), profile.Profile{
		Role:      role,
		Name:      name,
		Email:     email,
		IsActive:  true,
		CreatedAt: ts,
		UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("createAdmin() failed: %v", err)
	}
	return p
}

func CreateStudent(
	t *testing.T,
	repo profile.Repository,
	admin profile.Profile,
	name, uname, pwd string,
	isActive bool,
	createdAt ...time.Time,
) profile.Profile {
	t.Helper()
	ts := tstamp(createdAt)
	p := profile.Profile{
		Role:      profile.RoleStudent,
		Name:      name,
		Username:  uname,
		AdminID:   admin.ID,
		IsActive:  isActive,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if pwd != "" {
		if err := p.SetPassword(pwd); err != nil {
			t.Fatalf("createStudent() failed: %v", err)
		}
	}
	p, err := repo.CreateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return p
}

func CreateModule(t *testing.T, repo module.Repository, admin profile.Profile, title string, curated bool, paragraphs ...string) module.Module {
	t.Helper()
	ts := time.Now().UTC()
	if len(paragraphs) == 0 {
		paragraphs = []string{"First paragraph.", "Second paragraph.", "Third paragraph."}
	}
	m, err := repo.CreateModule(context.Background(), module.Module{
		AdminID:    admin.ID,
		Title:      title,
		Level:      module.LevelBeginner,
		IsCurated:  curated,
		Paragraphs: paragraphs,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	})
	if err != nil {
		t.Fatalf("createModule() failed: %v", err)
	}
	return m
}

func CreatePlan(t *testing.T, repo billing.Repository, name, priceID string, maxStudents int) billing.Plan {
	t.Helper()
	p, err := repo.SavePlan(context.Background(), billing.Plan{
		Name:          name,
		StripePriceID: priceID,
		PriceCents:    900,
		Currency:      "usd",
		Interval:      "month",
		MaxStudents:   maxStudents,
		IsActive:      true,
	})
	if err != nil {
		t.Fatalf("createPlan() failed: %v", err)
	}
	return p
}
