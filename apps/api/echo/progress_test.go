package echoapi_test

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	. "github.com/noteearly/noteearly/apps/api/echo"
	"github.com/noteearly/noteearly/core/progress"
	testutil "github.com/noteearly/noteearly/tests"
)

func TestProgress_Reading(t *testing.T) {
	env := setup(t)
	ada := testutil.CreateAdmin(t, env.profileRepo, "Ada", "ada@example.com", false)
	bea := testutil.CreateAdmin(t, env.profileRepo, "Bea", "bea@example.com", false)
	kito := testutil.CreateStudent(t, env.profileRepo, ada, "Kito", "kito", "", true)
	zuri := testutil.CreateStudent(t, env.profileRepo, bea, "Zuri", "zuri", "", true)
	m := testutil.CreateModule(t, env.moduleRepo, ada, "Three paragraphs", false)
	_, err := env.progressRepo.Assign(context.Background(), m.ID, []string{kito.ID}, time.Now().UTC())
	require.NoError(t, err)

	token := getToken(t, env.conf, kito)
	submit := func(t *testing.T, body string) SubmissionResponse {
		rec := httpTest{
			method: http.MethodPost,
			path:   "/v1/modules/" + m.ID + "/submissions",
			token:  token,
			body:   []byte(body),
		}.run(t, env)
		var resp SubmissionResponse
		unmarshal(t, rec, &resp)
		return resp
	}

	t.Run("admins cannot start", func(t *testing.T) {
		httpTest{
			method:   http.MethodPost,
			path:     "/v1/modules/" + m.ID + "/start",
			token:    env.adminToken(ada),
			wantCode: http.StatusForbidden,
		}.run(t, env)
	})

	t.Run("start", func(t *testing.T) {
		rec := httpTest{
			method: http.MethodPost,
			path:   "/v1/modules/" + m.ID + "/start",
			token:  token,
		}.run(t, env)

		var p progress.Progress
		unmarshal(t, rec, &p)
		assert.Equal(t, progress.StatusInProgress, p.Status)
		assert.False(t, p.StartedAt.IsZero())
		assert.Equal(t, 0, p.CurrentParagraph)

		// starting again keeps the start time
		rec = httpTest{
			method: http.MethodPost,
			path:   "/v1/modules/" + m.ID + "/start",
			token:  token,
		}.run(t, env)
		var again progress.Progress
		unmarshal(t, rec, &again)
		assert.True(t, p.StartedAt.Equal(again.StartedAt))
	})

	t.Run("invalid submissions", func(t *testing.T) {
		tests := []httpTest{
			{
				name:     "missing fields",
				body:     []byte(`{}`),
				wantData: []byte(`{"paragraph_index":"this field is required","summary":"this field is required"}`),
			},
			{
				name:     "skipping ahead",
				body:     []byte(`{"paragraph_index":1,"summary":"Too early."}`),
				wantData: []byte(`{"paragraph_index":"paragraph 0 must be summarized first"}`),
			},
			{
				name:     "out of range",
				body:     []byte(`{"paragraph_index":3,"summary":"No such paragraph."}`),
				wantData: []byte(`{"paragraph_index":"this module only has 3 paragraphs"}`),
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.method = http.MethodPost
				tt.path = "/v1/modules/" + m.ID + "/submissions"
				tt.token = token
				tt.wantCode = http.StatusBadRequest
				tt.run(t, env)
			})
		}
	})

	t.Run("summarize in order", func(t *testing.T) {
		resp := submit(t, `{"paragraph_index":0,"summary":"  First summary. "}`)
		assert.Equal(t, 1, resp.Progress.CurrentParagraph)
		assert.Equal(t, progress.StatusInProgress, resp.Progress.Status)
		assert.Equal(t, "First summary.", resp.Submission.Summary)

		resp = submit(t, `{"paragraph_index":1,"summary":"Second summary."}`)
		assert.Equal(t, 2, resp.Progress.CurrentParagraph)

		// rewriting an earlier summary does not move the cursor back
		resp = submit(t, `{"paragraph_index":0,"summary":"Better first summary."}`)
		assert.Equal(t, 2, resp.Progress.CurrentParagraph)
		assert.Equal(t, 0, resp.Submission.ParagraphIndex)

		resp = submit(t, `{"paragraph_index":2,"summary":"Last summary."}`)
		assert.Equal(t, 3, resp.Progress.CurrentParagraph)
		assert.Equal(t, progress.StatusCompleted, resp.Progress.Status)
		assert.False(t, resp.Progress.CompletedAt.IsZero())
	})

	t.Run("list submissions", func(t *testing.T) {
		rec := httpTest{
			path:  "/v1/modules/" + m.ID + "/submissions",
			token: token,
		}.run(t, env)

		var subs []progress.Submission
		unmarshal(t, rec, &subs)
		require.Len(t, subs, 3)
		assert.Equal(t, "Better first summary.", subs[0].Summary)
		assert.Equal(t, "Second summary.", subs[1].Summary)
		assert.Equal(t, "Last summary.", subs[2].Summary)
	})

	t.Run("admin lists a student's submissions", func(t *testing.T) {
		httpTest{
			path:     "/v1/modules/" + m.ID + "/submissions",
			token:    env.adminToken(ada),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"student_id":"this field is required"}`),
		}.run(t, env)

		httpTest{
			path:     "/v1/modules/" + m.ID + "/submissions?student_id=" + zuri.ID,
			token:    env.adminToken(ada),
			wantCode: http.StatusNotFound,
		}.run(t, env)

		rec := httpTest{
			path:  "/v1/modules/" + m.ID + "/submissions?student_id=" + kito.ID,
			token: env.adminToken(ada),
		}.run(t, env)
		var subs []progress.Submission
		unmarshal(t, rec, &subs)
		assert.Len(t, subs, 3)
	})
}

func TestProgress_NotAssigned(t *testing.T) {
	env := setup(t)
	ada := testutil.CreateAdmin(t, env.profileRepo, "Ada", "ada@example.com", false)
	kito := testutil.CreateStudent(t, env.profileRepo, ada, "Kito", "kito", "", true)
	m := testutil.CreateModule(t, env.moduleRepo, ada, "Unassigned", false)

	httpTest{
		method:   http.MethodPost,
		path:     "/v1/modules/" + m.ID + "/submissions",
		token:    getToken(t, env.conf, kito),
		body:     []byte(`{"paragraph_index":0,"summary":"Sneaky."}`),
		wantCode: http.StatusNotFound,
		wantData: marchallObj(t, errNotFound),
	}.run(t, env)
}

func TestProgress_Query(t *testing.T) {
	env := setup(t)
	ada := testutil.CreateAdmin(t, env.profileRepo, "Ada", "ada@example.com", false)
	bea := testutil.CreateAdmin(t, env.profileRepo, "Bea", "bea@example.com", false)
	kito := testutil.CreateStudent(t, env.profileRepo, ada, "Kito", "kito", "", true)
	amani := testutil.CreateStudent(t, env.profileRepo, ada, "Amani", "amani", "", true)
	zuri := testutil.CreateStudent(t, env.profileRepo, bea, "Zuri", "zuri", "", true)
	m1 := testutil.CreateModule(t, env.moduleRepo, ada, "First", false)
	m2 := testutil.CreateModule(t, env.moduleRepo, bea, "Second", false)

	now := time.Now().UTC()
	ctx := context.Background()
	_, err := env.progressRepo.Assign(ctx, m1.ID, []string{kito.ID}, now.Add(-3*time.Hour))
	require.NoError(t, err)
	_, err = env.progressRepo.Assign(ctx, m1.ID, []string{amani.ID}, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = env.progressRepo.Assign(ctx, m2.ID, []string{zuri.ID}, now.Add(-time.Hour))
	require.NoError(t, err)

	query := func(t *testing.T, path, token string) []progress.Progress {
		rec := httpTest{path: path, token: token}.run(t, env)
		var rows []progress.Progress
		unmarshal(t, rec, &rows)
		return rows
	}
	studentIDs := func(rows []progress.Progress) []string {
		ids := make([]string, 0, len(rows))
		for _, p := range rows {
			ids = append(ids, p.StudentID)
		}
		return ids
	}

	t.Run("admin sees own students, newest first", func(t *testing.T) {
		rows := query(t, "/v1/progress", env.adminToken(ada))
		assert.Equal(t, []string{amani.ID, kito.ID}, studentIDs(rows))
		assert.Equal(t, "First", rows[0].ModuleTitle)
		assert.Equal(t, "Amani", rows[0].StudentName)
		assert.Equal(t, 3, rows[0].ParagraphCount)
	})

	t.Run("ordering", func(t *testing.T) {
		rows := query(t, "/v1/progress?ordering=assigned_at", env.adminToken(ada))
		assert.Equal(t, []string{kito.ID, amani.ID}, studentIDs(rows))
	})

	t.Run("filter by student", func(t *testing.T) {
		rows := query(t, "/v1/progress?student_id="+kito.ID, env.adminToken(ada))
		assert.Equal(t, []string{kito.ID}, studentIDs(rows))

		rows = query(t, "/v1/progress?student_id="+zuri.ID, env.adminToken(ada))
		assert.Empty(t, rows)
	})

	t.Run("student sees own progress only", func(t *testing.T) {
		rows := query(t, "/v1/progress?student_id="+amani.ID, getToken(t, env.conf, kito))
		assert.Equal(t, []string{kito.ID}, studentIDs(rows))
	})

	t.Run("status filter", func(t *testing.T) {
		rows := query(t, "/v1/progress?status=completed", env.adminToken(bea))
		assert.Empty(t, rows)
		rows = query(t, "/v1/progress?status=not_started", env.adminToken(bea))
		assert.Equal(t, []string{zuri.ID}, studentIDs(rows))
	})
}

func TestProgress_Export(t *testing.T) {
	env := setup(t)
	ada := testutil.CreateAdmin(t, env.profileRepo, "Ada", "ada@example.com", false)
	kito := testutil.CreateStudent(t, env.profileRepo, ada, "Kito", "kito", "", true)
	m := testutil.CreateModule(t, env.moduleRepo, ada, "Exported", false)
	_, err := env.progressRepo.Assign(context.Background(), m.ID, []string{kito.ID}, time.Now().UTC())
	require.NoError(t, err)

	t.Run("students cannot export", func(t *testing.T) {
		httpTest{
			path:     "/v1/progress/export",
			token:    getToken(t, env.conf, kito),
			wantCode: http.StatusForbidden,
		}.run(t, env)
	})

	t.Run("xlsx", func(t *testing.T) {
		mockNow(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

		req, rec := newAuthRequest(http.MethodGet, "/v1/progress/export", env.adminToken(ada))
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, `attachment; filename="progress-20260314.xlsx"`, rec.Header().Get("Content-Disposition"))

		f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()

		rows, err := f.GetRows("Progress")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "student", rows[0][0])
		assert.Equal(t, []string{"Kito", "kito", "Exported", "not_started", "0", "3"}, rows[1][:6])
	})
}
