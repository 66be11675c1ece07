package sqlxrepos

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/progress"
)

const (
	adaID  = "5c1e2d3f-4a5b-4c6d-8e7f-9a0b1c2d3e4f"
	kitoID = "6d2f3e4a-5b6c-4d7e-9f8a-0b1c2d3e4f5a"
	modID  = "7e3a4f5b-6c7d-4e8f-8a9b-1c2d3e4f5a6b"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

func q(query string) string {
	return regexp.QuoteMeta(query)
}

func TestWhereAndOrderBy(t *testing.T) {
	var w where
	assert.Equal(t, "", w.String())
	w.add("a = ?", 1)
	w.add("b IN (?)", []string{"x", "y"})
	assert.Equal(t, " WHERE a = ? AND b IN (?)", w.String())
	assert.Equal(t, []interface{}{1, []string{"x", "y"}}, w.args)

	assert.Equal(t, "", orderBy(nil, ""))
	assert.Equal(t, " ORDER BY sp.assigned_at DESC", orderBy(nil, "sp.", core.DBOrdering{Field: "assigned_at"}))
	assert.Equal(t, " ORDER BY name ASC, created_at DESC",
		orderBy([]core.DBOrdering{{Field: "name", Ascending: true}, {Field: "created_at"}}, "", core.DBOrdering{Field: "id"}))

	assert.True(t, validIDs("", adaID))
	assert.False(t, validIDs(adaID, "lol"))
}

func TestTrapNoRowsErr(t *testing.T) {
	notFound := errors.New("thing not found")

	assert.Equal(t, notFound, trapNoRowsErr(errors.Wrap(sql.ErrNoRows, "scanning"), notFound, "getting thing"))

	err := trapNoRowsErr(sql.ErrConnDone, notFound, "getting thing")
	assert.True(t, core.IsShutdown(err))
	assert.Equal(t, "getting thing: sql: connection is already closed", err.Error())

	err = trapNoRowsErr(errors.New("boom"), notFound, "getting thing")
	assert.False(t, core.IsShutdown(err))
	assert.EqualError(t, err, "getting thing: boom")
}

func TestProfileRepository_GetProfile(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	_, err := repo.GetProfile(ctx, profile.GetFilter{ID: "lol"})
	assert.Equal(t, profile.ErrNotFound, err)
	_, err = repo.GetProfile(ctx, profile.GetFilter{})
	assert.Equal(t, profile.ErrNotFound, err)

	mock.ExpectQuery(q("FROM profiles WHERE username = $1")).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetProfile(ctx, profile.GetFilter{Username: "nobody"})
	assert.Equal(t, profile.ErrNotFound, err)

	cols := []string{"id", "role", "name", "username", "email", "password_hash", "admin_id", "is_active", "created_at", "updated_at", "last_login"}
	mock.ExpectQuery(q("SELECT "+profileColumns+" FROM profiles WHERE id = $1")).
		WithArgs(kitoID).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(kitoID, profile.RoleStudent, "Kito", "kito", nil, []byte("hash"), adaID, true, created, created, nil))
	p, err := repo.GetProfile(ctx, profile.GetFilter{ID: kitoID})
	require.NoError(t, err)
	assert.Equal(t, profile.Profile{
		ID:           kitoID,
		Role:         profile.RoleStudent,
		Name:         "Kito",
		Username:     "kito",
		PasswordHash: []byte("hash"),
		AdminID:      adaID,
		IsActive:     true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}, p)

	mock.ExpectQuery(q("FROM profiles WHERE email = $1")).
		WithArgs("ada@example.com").
		WillReturnError(errors.New("connection reset"))
	_, err = repo.GetProfile(ctx, profile.GetFilter{Email: "ada@example.com"})
	if assert.Error(t, err) {
		assert.Equal(t, "getting profile: connection reset", err.Error())
	}
}

func TestProfileRepository_CheckUniqueness(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	assert.NoError(t, repo.CheckUniqueness(ctx, "", ""))

	mock.ExpectQuery(q("SELECT username, email FROM profiles WHERE (username = $1 OR email = $2) AND id NOT IN ($3) LIMIT 1")).
		WithArgs("kito", "kito@example.com", kitoID).
		WillReturnError(sql.ErrNoRows)
	assert.NoError(t, repo.CheckUniqueness(ctx, "kito", "kito@example.com", profile.Profile{ID: kitoID}))

	mock.ExpectQuery(q("WHERE (username = $1 OR email = $2) LIMIT 1")).
		WithArgs("kito", "kito@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"username", "email"}).AddRow("kito", nil))
	assert.Equal(t, profile.ErrUsernameExists, repo.CheckUniqueness(ctx, "kito", "kito@example.com"))

	mock.ExpectQuery(q("WHERE email = $1 LIMIT 1")).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"username", "email"}).AddRow(nil, "ada@example.com"))
	assert.Equal(t, profile.ErrEmailExists, repo.CheckUniqueness(ctx, "", "ada@example.com"))
}

func TestProfileRepository_Write(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	kito := profile.Profile{ID: kitoID, Role: profile.RoleStudent, Name: "Kito", Username: "kito", AdminID: adaID, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(q("INSERT INTO profiles (" + profileColumns + ")")).
		WithArgs(kitoID, profile.RoleStudent, "Kito", "kito", nil, nil, adaID, false, now, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	p, err := repo.CreateProfile(ctx, kito)
	require.NoError(t, err)
	assert.Equal(t, kito, p)

	mock.ExpectExec(q("INSERT INTO profiles")).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	_, err = repo.CreateProfile(ctx, profile.Profile{Role: profile.RoleStudent, Username: "kito"})
	assert.Equal(t, profile.ErrUsernameExists, err)

	mock.ExpectExec(q("UPDATE profiles SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = repo.UpdateProfile(ctx, kito)
	assert.Equal(t, profile.ErrNotFound, err)

	mock.ExpectExec(q("DELETE FROM profiles WHERE id IN ($1, $2)")).
		WithArgs(kitoID, adaID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := repo.DeleteProfilesByID(ctx, kitoID, adaID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.ExpectQuery(q("SELECT COUNT(*) FROM profiles WHERE role = $1 AND admin_id = $2")).
		WithArgs(profile.RoleStudent, adaID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	count, err := repo.CountStudents(ctx, adaID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestProfileRepository_QueryProfiles(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()
	active := true
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("SELECT " + profileColumns + " FROM profiles" +
		" WHERE (name ILIKE $1 OR username ILIKE $2 OR email ILIKE $3) AND role IN ($4) AND admin_id = $5" +
		" AND is_active = $6 AND created_at >= $7 ORDER BY name ASC")).
		WithArgs("%ki%", "%ki%", "%ki%", profile.RoleStudent, adaID, true, from).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "name"}))
	profiles, err := repo.QueryProfiles(ctx, &profile.QueryFilter{
		Search:      "ki",
		Roles:       []string{profile.RoleStudent},
		AdminID:     adaID,
		IsActive:    &active,
		CreatedFrom: from,
	}, []core.DBOrdering{{Field: "name", Ascending: true}})
	require.NoError(t, err)
	assert.NotNil(t, profiles)
	assert.Empty(t, profiles)

	mock.ExpectQuery(q("FROM profiles ORDER BY created_at ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "name"}))
	_, err = repo.QueryProfiles(ctx, nil, nil)
	require.NoError(t, err)
}

func TestProgressRepository_Assign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProgressRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	const progID = "9a5c6b7d-8e9f-4a0b-8c1d-3e4f5a6b7c8d"
	origNewID := newID
	t.Cleanup(func() { newID = origNewID })
	newID = func() string { return progID }

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO student_progress")).
		WithArgs(progID, kitoID, modID, progress.StatusNotStarted, 0, at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("ON CONFLICT (student_id, module_id) DO NOTHING")).
		WithArgs(progID, adaID, modID, progress.StatusNotStarted, 0, at, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(progressSelect+" WHERE sp.id IN ($1)")).
		WithArgs(progID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "module_id", "status", "current_paragraph",
			"assigned_at", "started_at", "completed_at", "updated_at",
			"student_name", "student_username", "module_title", "paragraph_count"}).
			AddRow(progID, kitoID, modID, progress.StatusNotStarted, 0, at, nil, nil, at, "Kito", "kito", "The Lion", 3))
	mock.ExpectCommit()

	created, err := repo.Assign(ctx, modID, []string{kitoID, adaID}, at)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, progID, created[0].ID)
	assert.Equal(t, kitoID, created[0].StudentID)
	assert.Equal(t, progress.StatusNotStarted, created[0].Status)
	assert.Equal(t, "Kito", created[0].StudentName)
	assert.Equal(t, "kito", created[0].StudentUsername)
	assert.Equal(t, "The Lion", created[0].ModuleTitle)
	assert.Equal(t, 3, created[0].ParagraphCount)
	assert.Equal(t, at, created[0].AssignedAt)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO student_progress")).
		WillReturnError(errors.New("foreign key violation"))
	mock.ExpectRollback()

	_, err = repo.Assign(ctx, modID, []string{kitoID}, at)
	if assert.Error(t, err) {
		assert.Equal(t, "inserting progress: foreign key violation", err.Error())
	}
}

func TestProgressRepository_SaveSubmission(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProgressRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	firstAt := now.Add(-time.Hour)

	p := progress.Progress{ID: "8f4b5a6c-7d8e-4f9a-9b0c-2d3e4f5a6b7c", StudentID: kitoID, ModuleID: modID,
		Status: progress.StatusInProgress, CurrentParagraph: 2, AssignedAt: firstAt, StartedAt: firstAt, UpdatedAt: now}
	s := progress.Submission{StudentID: kitoID, ModuleID: modID, ParagraphIndex: 0, Summary: "A hungry lion.", CreatedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE student_progress SET")).
		WithArgs(progress.StatusInProgress, 2, firstAt, nil, now, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO paragraph_submissions")).
		WithArgs(sqlmock.AnyArg(), kitoID, modID, 0, "A hungry lion.", now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("sub-1", firstAt))
	mock.ExpectCommit()

	gotP, gotS, err := repo.SaveSubmission(ctx, p, s)
	require.NoError(t, err)
	assert.Equal(t, p, gotP)
	assert.Equal(t, "sub-1", gotS.ID)
	assert.Equal(t, firstAt, gotS.CreatedAt)
	assert.Equal(t, now, gotS.UpdatedAt)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE student_progress SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO paragraph_submissions")).
		WillReturnError(errors.New("check violation"))
	mock.ExpectRollback()

	_, _, err = repo.SaveSubmission(ctx, p, s)
	if assert.Error(t, err) {
		assert.Equal(t, "upserting submission: check violation", err.Error())
	}
}

func TestProgressRepository_Query(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProgressRepository(db)
	ctx := context.Background()

	rows, err := repo.QueryProgress(ctx, &progress.QueryFilter{StudentID: "lol"}, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = repo.GetProgress(ctx, kitoID, "lol")
	assert.Equal(t, progress.ErrNotFound, err)

	mock.ExpectQuery(q("WHERE sp.module_id = $1 AND sp.status = $2 AND p.admin_id = $3 ORDER BY sp.updated_at ASC")).
		WithArgs(modID, progress.StatusCompleted, adaID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	rows, err = repo.QueryProgress(ctx, &progress.QueryFilter{ModuleID: modID, Status: progress.StatusCompleted, AdminID: adaID},
		[]core.DBOrdering{{Field: "updated_at", Ascending: true}})
	require.NoError(t, err)
	assert.Empty(t, rows)

	mock.ExpectQuery(q("WHERE sp.student_id = $1 AND sp.module_id = $2")).
		WithArgs(kitoID, modID).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetProgress(ctx, kitoID, modID)
	assert.Equal(t, progress.ErrNotFound, err)

	mock.ExpectExec(q("DELETE FROM student_progress WHERE module_id = $1 AND student_id IN ($2)")).
		WithArgs(modID, kitoID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := repo.Unassign(ctx, modID, kitoID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBillingRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBillingRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)
	planID := "9a5c6b7d-8e9f-4a0b-8c1d-3e4f5a6b7c8d"

	mock.ExpectQuery(q("SELECT " + planColumns + " FROM subscription_plans WHERE is_active ORDER BY price_cents")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "stripe_price_id", "price_cents", "max_students", "is_active"}).
			AddRow(planID, "Classroom", "price_classroom", 900, 30, true))
	plans, err := repo.QueryPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "price_classroom", plans[0].StripePriceID)
	assert.Equal(t, 30, plans[0].MaxStudents)

	_, err = repo.GetPlan(ctx, billing.PlanFilter{ID: "lol"})
	assert.Equal(t, billing.ErrPlanNotFound, err)

	mock.ExpectQuery(q("FROM subscription_plans WHERE stripe_price_id = $1")).
		WithArgs("price_unknown").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetPlan(ctx, billing.PlanFilter{StripePriceID: "price_unknown"})
	assert.Equal(t, billing.ErrPlanNotFound, err)

	mock.ExpectQuery(q("ON CONFLICT (stripe_price_id) DO UPDATE SET")).
		WithArgs(sqlmock.AnyArg(), "Classroom", "", "price_classroom", int64(1200), "usd", "month", 40, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(planID))
	plan, err := repo.SavePlan(ctx, billing.Plan{Name: "Classroom", StripePriceID: "price_classroom", PriceCents: 1200,
		Currency: "usd", Interval: "month", MaxStudents: 40, IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, planID, plan.ID)

	mock.ExpectQuery(q("ON CONFLICT (profile_id) DO UPDATE SET")).
		WithArgs(sqlmock.AnyArg(), adaID, nil, "cus_1", nil, billing.StatusIncomplete, nil, false, now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("sub-row-1", now.Add(-time.Hour)))
	sub, err := repo.SaveSubscription(ctx, billing.Subscription{ProfileID: adaID, StripeCustomerID: "cus_1",
		Status: billing.StatusIncomplete, CreatedAt: now, UpdatedAt: now, Plan: &plan})
	require.NoError(t, err)
	assert.Equal(t, "sub-row-1", sub.ID)
	assert.Equal(t, now.Add(-time.Hour), sub.CreatedAt)
	assert.Nil(t, sub.Plan)

	subCols := []string{"id", "profile_id", "plan_id", "stripe_customer_id", "stripe_subscription_id", "status",
		"current_period_end", "cancel_at_period_end", "created_at", "updated_at"}
	mock.ExpectQuery(q("FROM customer_subscriptions WHERE stripe_subscription_id = $1 LIMIT 1")).
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows(subCols).
			AddRow("sub-row-1", adaID, planID, "cus_1", "sub_1", billing.StatusActive, periodEnd, true, now, now))
	sub, err = repo.GetSubscription(ctx, billing.SubscriptionFilter{StripeSubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.Equal(t, planID, sub.PlanID)
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd)
	assert.True(t, sub.IsActive(now))

	_, err = repo.GetSubscription(ctx, billing.SubscriptionFilter{ProfileID: "lol"})
	assert.Equal(t, billing.ErrNoSubscription, err)

	mock.ExpectQuery(q("WHERE cancel_at_period_end AND status <> $1 AND current_period_end < $2")).
		WithArgs(billing.StatusCanceled, now).
		WillReturnRows(sqlmock.NewRows(subCols))
	lapsed, err := repo.QueryLapsed(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, lapsed)
}
