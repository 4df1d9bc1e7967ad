package otfgpa

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nsip/otf-gpa/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var fixtures = map[string]string{
	"comsc101a.sec": "COMSC101 3\nAnn,1,A\nBob,2,A\n",
	"comsc101b.sec": "COMSC101, Fall 2023, 3\nCat,3,D\nDan,4,W\n",
	"cs.grp":        "CS\ncomsc101a.sec\ncomsc101b\n",
	"fall.run":      "Fall\ncs\ngone\n",
}

func newTestService(t *testing.T) *OtfGpaService {
	t.Helper()
	srvc, err := New(Name("test"), ID("test-id"), LogLevel("off"))
	require.NoError(t, err)
	t.Cleanup(func() { srvc.store.Close() })
	return srvc
}

func do(t *testing.T, srvc *OtfGpaService, req *http.Request, sess string) *httptest.ResponseRecorder {
	t.Helper()
	if sess != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess})
	}
	rec := httptest.NewRecorder()
	srvc.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, files map[string]string, order ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func runRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadFixtures(t *testing.T, srvc *OtfGpaService, sess string) {
	t.Helper()
	rec := do(t, srvc, uploadRequest(t, fixtures, "comsc101a.sec", "comsc101b.sec", "cs.grp", "fall.run"), sess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestService_Ping(t *testing.T) {
	srvc := newTestService(t)
	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OK")
}

func TestService_IssuesSessionCookie(t *testing.T) {
	srvc := newTestService(t)

	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/session", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var issued string
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == SessionCookie {
			issued = ck.Value
		}
	}
	require.NotEmpty(t, issued)
	assert.Equal(t, issued, gjson.Get(rec.Body.String(), "session").String())

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/session", nil), issued)
	assert.Equal(t, issued, gjson.Get(rec.Body.String(), "session").String())
	assert.Empty(t, rec.Result().Cookies(), "known session is not reissued")
}

func TestService_RejectsUnsafeSessionKeys(t *testing.T) {
	srvc := newTestService(t)
	uploadFixtures(t, srvc, "victim")
	require.Equal(t, http.StatusOK, do(t, srvc, runRequest(`{"run_file":"fall","run_id":"r1"}`), "victim").Code)

	for _, bad := range []string{"victim/r1", "victim/x", "../victim", strings.Repeat("a", 65)} {
		rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/session", nil), bad)
		require.Equal(t, http.StatusOK, rec.Code)
		issued := gjson.Get(rec.Body.String(), "session").String()
		assert.NotEqual(t, bad, issued, "unsafe key %q is replaced", bad)
		require.Len(t, rec.Result().Cookies(), 1)
		assert.Equal(t, issued, rec.Result().Cookies()[0].Value)

		rec = do(t, srvc, runRequest(`{"run_file":"fall","run_id":"x"}`), bad)
		assert.Equal(t, http.StatusNotFound, rec.Code, "unsafe key %q cannot reach another session's files", bad)
	}

	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs", nil), "victim")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "count").Int())
	assert.Equal(t, "r1", gjson.Get(rec.Body.String(), "runs.0.run_id").String())
}

func TestService_UploadAndList(t *testing.T) {
	srvc := newTestService(t)

	rec := do(t, srvc, uploadRequest(t, fixtures, "comsc101a.sec", "cs.grp", "fall.run"), "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Equal(t, int64(3), gjson.Get(body, "count").Int())
	assert.Equal(t, "comsc101a", gjson.Get(body, "files.0.key").String())
	assert.Equal(t, "section", gjson.Get(body, "files.0.kind").String())
	assert.Equal(t, "cs.grp", gjson.Get(body, "files.1.key").String())
	assert.Equal(t, "fall.run", gjson.Get(body, "files.2.key").String())

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/files", nil), "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), gjson.Get(rec.Body.String(), "count").Int())

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/files", nil), "s2")
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "count").Int())
}

func TestService_UploadRejectsMalformed(t *testing.T) {
	srvc := newTestService(t)

	tests := []struct {
		name    string
		file    string
		content string
		wantMsg string
	}{
		{"short row", "bad.sec", "COMSC101 3\nAnn,1\n", "bad.sec: row 2"},
		{"bad credits", "bad.sec", "COMSC101, Fall, lots\nAnn,1,A\n", "invalid credit hours"},
		{"nan credits", "bad.sec", "COMSC101 NaN\nAnn,1,A\n", "bad.sec: row 1: invalid credit hours"},
		{"empty group", "empty.grp", "\n", "file is empty"},
		{"unknown kind", "notes.txt", "hello", "unsupported file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srvc, uploadRequest(t, map[string]string{tt.file: tt.content}, tt.file), "s1")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}

	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/files", nil), "s1")
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "count").Int())

	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, srvc, req, "s1").Code)
}

func TestService_ComputeRun(t *testing.T) {
	srvc := newTestService(t)
	uploadFixtures(t, srvc, "s1")

	rec := do(t, srvc, runRequest(`{"run_file":"fall","run_id":"run1"}`), "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()

	assert.Equal(t, "run1", gjson.Get(body, "run_id").String())
	res := gjson.Get(body, "result")
	assert.Equal(t, "Fall", res.Get("run_name").String())
	assert.Equal(t, "gone.grp", res.Get("group_errors.0.group_file").String())

	course := res.Get("courses.COMSC101")
	assert.Equal(t, int64(4), course.Get("total_students").Int())
	assert.InDelta(t, 3.0, course.Get("average_gpa").Float(), 1e-9)
	assert.InDelta(t, 1.0, course.Get("sections.0.z_score").Float(), 1e-9)
	assert.InDelta(t, -1.0, course.Get("sections.1.z_score").Float(), 1e-9)
	assert.Equal(t, "COMSC101", res.Get("course_list.0.course_code").String())

	assert.Equal(t, "3", res.Get("improvement_lists.work_list.0.student_id").String())
	assert.Equal(t, int64(2), res.Get("improvement_lists.good_list.#").Int())
	assert.Equal(t, int64(4), res.Get("summary.total_students").Int())

	// stored result reads back the same
	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/run1", nil), "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, res.Raw, rec.Body.String())

	// and again past the cache
	srvc.results.Flush()
	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/run1", nil), "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, res.Raw, rec.Body.String())

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs", nil), "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "count").Int())
	assert.Equal(t, "Fall", gjson.Get(rec.Body.String(), "runs.0.run_name").String())
}

func TestService_ComputeGeneratesRunID(t *testing.T) {
	srvc := newTestService(t)
	uploadFixtures(t, srvc, "s1")

	rec := do(t, srvc, runRequest(`{"run_file":"fall.run"}`), "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runID := gjson.Get(rec.Body.String(), "run_id").String()
	require.NotEmpty(t, runID)

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil), "s1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_ComputeErrors(t *testing.T) {
	srvc := newTestService(t)
	uploadFixtures(t, srvc, "s1")

	rec := do(t, srvc, runRequest(`{}`), "s1")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "run_file is required")

	rec = do(t, srvc, runRequest(`{"run_file":"fall","run_id":"no spaces!"}`), "s1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srvc, runRequest(`{"run_file":"spring"}`), "s1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srvc, runRequest(`{"run_file":"fall"}`), "s2")
	assert.Equal(t, http.StatusNotFound, rec.Code, "runs only see their own session's files")

	require.Equal(t, http.StatusOK, do(t, srvc, runRequest(`{"run_file":"fall","run_id":"dup"}`), "s1").Code)
	rec = do(t, srvc, runRequest(`{"run_file":"fall","run_id":"dup"}`), "s1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestService_ResultStates(t *testing.T) {
	srvc := newTestService(t)

	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/nope", nil), "s1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, srvc.store.CreateRun("s1", store.RunMeta{RunID: "busy", CreatedAt: time.Now()}))
	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/busy", nil), "s1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/busy/export", nil), "s1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/busy", nil), "s2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestService_Export(t *testing.T) {
	srvc := newTestService(t)
	uploadFixtures(t, srvc, "s1")
	require.Equal(t, http.StatusOK, do(t, srvc, runRequest(`{"run_file":"fall","run_id":"r1"}`), "s1").Code)

	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/runs/r1/export", nil), "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="r1.csv"`)

	out := rec.Body.String()
	assert.True(t, strings.HasPrefix(out, "Run,Fall\n"))
	assert.Contains(t, out, "COMSC101,100-level,4,3.00,0.000,2,0,0,1,0,1,0\n")
	assert.Contains(t, out, "Work,3,Cat,1.00\n")
}

func TestService_Metrics(t *testing.T) {
	srvc := newTestService(t)
	uploadFixtures(t, srvc, "s1")
	do(t, srvc, uploadRequest(t, map[string]string{"bad.sec": "X 1\nAnn\n"}, "bad.sec"), "s1")
	require.Equal(t, http.StatusOK, do(t, srvc, runRequest(`{"run_file":"fall"}`), "s1").Code)

	rec := do(t, srvc, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()

	assert.Contains(t, out, `otf_gpa_files_parsed_total{kind="section"} 2`)
	assert.Contains(t, out, `otf_gpa_files_parsed_total{kind="group"} 1`)
	assert.Contains(t, out, `otf_gpa_parse_failures_total{kind="section"} 1`)
	assert.Contains(t, out, `otf_gpa_runs_computed_total 1`)
	assert.Contains(t, out, `otf_gpa_missing_references_total{level="group"} 1`)
	assert.Contains(t, out, `otf_gpa_compute_duration_seconds_count 1`)
}

func TestOptions(t *testing.T) {
	_, err := New(Host(""))
	assert.Error(t, err)

	_, err = New(LogLevel("loud"))
	assert.Error(t, err)

	_, err = New(SessionTTL(0))
	assert.Error(t, err)

	srvc, err := New(Port(0), LogLevel("warn"), CacheTTL(time.Minute))
	require.NoError(t, err)
	defer srvc.store.Close()
	assert.NotZero(t, srvc.servicePort)
	assert.NotEmpty(t, srvc.serviceName)
	assert.NotEmpty(t, srvc.serviceID)
	assert.Equal(t, time.Minute, srvc.cacheTTL)
}
