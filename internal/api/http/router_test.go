package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/mind-engage/mindengage-grading/internal/api/http"
	authmw "github.com/mind-engage/mindengage-grading/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grading/internal/db"
	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/internal/report"
	"github.com/mind-engage/mindengage-grading/internal/storage"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook/sqlstore"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	t      *testing.T
	srv    *httptest.Server
	store  *sqlstore.Store
	auth   *authmw.AuthService
	blobs  *storage.FSStore
	pushed []queue.Trigger
}

type recordingSink struct{ env *env }

func (s recordingSink) Push(_ context.Context, t queue.Trigger) error {
	s.env.pushed = append(s.env.pushed, t)
	return nil
}

func newEnv(t *testing.T, queued bool) *env {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	e := &env{t: t, store: sqlstore.New(conn, "test"), auth: authmw.NewAuthService("test-secret-0123456789")}
	e.blobs, err = storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	rec := gradebook.New(e.store, func() time.Time { return fixedNow })
	deps := api.Deps{
		Store:  e.store,
		Events: e.store.Events,
		Recalc: rec,
		Blobs:  e.blobs,
		Auth:   e.auth,
		Now:    func() time.Time { return fixedNow },
	}
	if queued {
		deps.Triggers = recordingSink{env: e}
	}
	e.srv = httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(method, path, role string, body any) *http.Response {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(e.t, err)
	if role != "" {
		tok, err := e.auth.IssueJWT("user-"+role, role, time.Hour)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

// seedSection creates section s1 through the admin API with the usual weight layout.
func (e *env) seedSection() {
	e.t.Helper()
	ok := func(res *http.Response) { require.Equal(e.t, http.StatusOK, res.StatusCode) }
	ok(e.do(http.MethodPut, "/admin/sections/s1", "admin", map[string]any{"course_id": "c1", "title": "Algebra"}))
	for id, a := range map[string]map[string]any{
		"p1": {"section_id": "s1", "category": "practice", "max_points": 10},
		"p2": {"section_id": "s1", "category": "practice", "max_points": 10},
		"x1": {"section_id": "s1", "category": "exam", "max_points": 20},
		"f1": {"section_id": "s1", "category": "final-exam", "max_points": 20},
	} {
		ok(e.do(http.MethodPut, "/admin/activities/"+id, "admin", a))
	}
	ok(e.do(http.MethodPut, "/admin/enrollments/e1", "service", map[string]any{"section_id": "s1", "student_id": "u1"}))
	ok(e.do(http.MethodPut, "/admin/sections/s1/weights", "admin", map[string]any{"weights": []map[string]any{
		{"category": "practice", "weight_percent": 12.5},
		{"category": "exam", "weight_percent": 37.5},
		{"category": "final-exam", "weight_percent": 50},
	}}))
}

func TestHealth(t *testing.T) {
	e := newEnv(t, false)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/readyz", "", nil).StatusCode)
}

func TestAuthAndRoles(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/sections/s1/grades", "", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/sections/s1/grades", "service", nil).StatusCode)
	res := e.do(http.MethodPut, "/admin/sections/s1/weights", "teacher", map[string]any{"weights": []map[string]any{
		{"category": "exam", "weight_percent": 100},
	}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode, "weight edits are admin only")

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/sections/s1/weights", "teacher", nil).StatusCode)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/sections/s1/weights", "admin", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/sections/s1/weights", "service", nil).StatusCode)
}

func TestMe(t *testing.T) {
	e := newEnv(t, false)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/me", "", nil).StatusCode)

	res := e.do(http.MethodGet, "/me", "teacher", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	me := decode[struct {
		Subject     string   `json:"subject"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}](t, res)
	assert.Equal(t, "user-teacher", me.Subject)
	assert.Equal(t, "teacher", me.Role)
	assert.Equal(t, []string{"grades:export", "grades:recalculate", "grades:view", "weights:view"}, me.Permissions)
}

func TestScoresDriveRecalculation(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()

	for act, pts := range map[string]float64{"p1": 7, "p2": 9, "x1": 15, "f1": 18} {
		res := e.do(http.MethodPut, "/scores", "service", map[string]any{"enrollment_id": "e1", "activity_id": act, "points_obtained": pts})
		require.Equal(t, http.StatusOK, res.StatusCode)
		body := decode[map[string]any](t, res)
		assert.Equal(t, "s1", body["section_id"])
		assert.Equal(t, "done", body["recalculation"])
	}

	res := e.do(http.MethodGet, "/sections/s1/enrollments/e1/grade", "teacher", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	g := decode[gradebook.FinalGrade](t, res)
	assert.Equal(t, 16.63, g.Grade)

	res = e.do(http.MethodGet, "/sections/s1/grades", "teacher", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	list := decode[struct {
		Grades []gradebook.FinalGrade `json:"grades"`
	}](t, res)
	require.Len(t, list.Grades, 1)

	res = e.do(http.MethodGet, "/events?after=0", "service", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	events := decode[struct {
		Events []map[string]any `json:"events"`
		Next   int64            `json:"next"`
	}](t, res)
	assert.NotEmpty(t, events.Events)
	assert.Positive(t, events.Next)
}

func TestUpsertScore_Validation(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()

	res := e.do(http.MethodPut, "/scores", "service", map[string]any{"enrollment_id": "e1", "activity_id": "x1", "points_obtained": -3})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	body := decode[map[string]any](t, res)
	assert.Contains(t, body["fields"], "points_obtained")

	res = e.do(http.MethodPut, "/scores", "service", map[string]any{"enrollment_id": "e1", "activity_id": "x1"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = e.do(http.MethodPut, "/scores", "service", map[string]any{"enrollment_id": "e1", "activity_id": "nope", "points_obtained": 3})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestReplaceWeights_RefusesBadTable(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()

	res := e.do(http.MethodPut, "/admin/sections/s1/weights", "admin", map[string]any{"weights": []map[string]any{
		{"category": "practice", "weight_percent": 10},
		{"category": "exam", "weight_percent": 30},
		{"category": "final-exam", "weight_percent": 40},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	body := decode[map[string]any](t, res)
	assert.Equal(t, gradebook.ReasonWeightsNot100, body["reason"])
	diag := body["diagnostic"].(map[string]any)
	assert.InDelta(t, -20.0, diag["deviation"], 1e-9)

	res = e.do(http.MethodPut, "/admin/sections/s1/weights", "admin", map[string]any{"weights": []map[string]any{
		{"category": "homework", "weight_percent": 100},
	}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = e.do(http.MethodPut, "/admin/sections/s1/weights", "admin", map[string]any{"weights": []map[string]any{
		{"category": "exam", "weight_percent": 50},
		{"category": "exam", "weight_percent": 50},
	}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	// differs only in case: 60+40+60 would collapse to a valid 100
	res = e.do(http.MethodPut, "/admin/sections/s1/weights", "admin", map[string]any{"weights": []map[string]any{
		{"category": "Exam", "weight_percent": 60},
		{"category": "exam", "weight_percent": 40},
		{"category": "practice", "weight_percent": 60},
	}})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	dup := decode[map[string]any](t, res)
	assert.Contains(t, dup["error"], "duplicate category")

	res = e.do(http.MethodGet, "/sections/s1/weights", "teacher", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	current := decode[map[string]any](t, res)
	assert.Equal(t, true, current["valid"])
	assert.InDelta(t, 100.0, current["sum"], 1e-9)
}

func TestReplaceWeights_QueuesSectionRun(t *testing.T) {
	e := newEnv(t, true)
	e.seedSection()

	require.Len(t, e.pushed, 1)
	assert.Equal(t, queue.KindWeights, e.pushed[0].Kind)
	assert.Equal(t, "s1", e.pushed[0].SectionID)
	assert.Equal(t, fixedNow, e.pushed[0].RequestedAt)

	res := e.do(http.MethodPost, "/sections/s1/recalculate?async=1", "teacher", nil)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Len(t, e.pushed, 2)
	assert.Equal(t, queue.KindMigration, e.pushed[1].Kind)

	res = e.do(http.MethodPost, "/sections/ghost/recalculate?async=1", "teacher", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRecalculateSection_ReportsFailures(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()
	res := e.do(http.MethodPut, "/admin/enrollments/e2", "service", map[string]any{"section_id": "s1", "student_id": "u2"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	_, err := e.store.UpsertScore(context.Background(), "e1", "x1", 20)
	require.NoError(t, err)

	res = e.do(http.MethodPost, "/sections/s1/recalculate", "teacher", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	rep := decode[gradebook.RecalcReport](t, res)
	require.Len(t, rep.Succeeded, 1)
	assert.Equal(t, "e1", rep.Succeeded[0].EnrollmentID)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "e2", rep.Failed[0].EnrollmentID)
	assert.Equal(t, gradebook.ReasonNoScores, rep.Failed[0].Reason)
	assert.NotEmpty(t, rep.JobID)

	res = e.do(http.MethodPost, "/sections/s1/enrollments/e2/recalculate", "teacher", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res = e.do(http.MethodPost, "/sections/ghost/recalculate", "teacher", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDiagnostics(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()
	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/admin/sections/s2", "admin", map[string]any{"title": "No weights yet"}).StatusCode)

	res := e.do(http.MethodGet, "/admin/weights/diagnostics", "admin", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decode[struct {
		Checked int                          `json:"checked"`
		Invalid []gradebook.WeightDiagnostic `json:"invalid"`
	}](t, res)
	assert.Equal(t, 2, body.Checked)
	require.Len(t, body.Invalid, 1)
	assert.Equal(t, "s2", body.Invalid[0].SectionID)
	assert.InDelta(t, -100.0, body.Invalid[0].Deviation, 1e-9)
}

func TestExport_ArchivesWorkbook(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()

	res := e.do(http.MethodGet, "/sections/s1/grades/export.xlsx?archive=1", "teacher", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, report.ContentType, res.Header.Get("Content-Type"))
	key := res.Header.Get("X-Archive-Key")
	assert.Equal(t, report.Key("s1", fixedNow), key)

	keys, err := e.blobs.List(context.Background(), "exports/s1/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestDropEnrollment(t *testing.T) {
	e := newEnv(t, false)
	e.seedSection()

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/admin/enrollments/e1", "admin", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/admin/enrollments/e1x", "admin", nil).StatusCode)
}
