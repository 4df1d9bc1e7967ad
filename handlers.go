package otfgpa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nsip/otf-gpa/internal/grades"
	"github.com/nsip/otf-gpa/internal/record"
	"github.com/nsip/otf-gpa/internal/report"
	"github.com/nsip/otf-gpa/internal/resolve"
	"github.com/nsip/otf-gpa/internal/store"
	"github.com/nsip/otf-gpa/internal/util"
	"github.com/pkg/errors"
)

const (
	// SessionCookie carries the session key partitioning files and runs.
	SessionCookie = "otf-gpa-session"
	sessionCtxKey = "session"
)

//
// Parameters for starting a run.
// Params can be provided as json payload, via form components
// or as query params
//
type RunRequest struct {
	//
	// name of a previously uploaded run manifest,
	// the .run extension is optional
	//
	RunFile string `json:"run_file" form:"run_file" query:"run_file" validate:"required"`
	//
	// caller chosen run id, generated when blank
	//
	RunID string `json:"run_id" form:"run_id" query:"run_id" validate:"omitempty,alphanum,max=64"`
}

// StoredFile describes one accepted upload.
type StoredFile struct {
	File string      `json:"file"`
	Kind record.Kind `json:"kind"`
	Key  string      `json:"key"`
}

//
// makes sure every request carries a session key,
// issuing a new cookie when the client has none
// or sends one that cannot be used as a store key
//
func (s *OtfGpaService) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := ""
		if ck, err := c.Cookie(SessionCookie); err == nil && validSessionKey(ck.Value) {
			key = ck.Value
		}
		if key == "" {
			key = uuid.NewString()
			c.SetCookie(&http.Cookie{
				Name:     SessionCookie,
				Value:    key,
				Path:     "/",
				HttpOnly: true,
				MaxAge:   int(s.sessionTTL.Seconds()),
			})
			c.Logger().Debugf("new session %s", key)
		}
		s.sessions.SetDefault(key, time.Now())
		c.Set(sessionCtxKey, key)
		return next(c)
	}
}

// session keys are issued as uuids; anything outside [A-Za-z0-9_-] could escape its key prefix
func validSessionKey(key string) bool {
	if key == "" || len(key) > 64 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func session(c echo.Context) string {
	key, _ := c.Get(sessionCtxKey).(string)
	return key
}

func (s *OtfGpaService) sessionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":         session(c),
		"active_sessions": s.sessions.ItemCount(),
		"serviceID":       s.serviceID,
		"serviceName":     s.serviceName,
	})
}

//
// accepts one or more multipart "file" parts, parses each by
// its extension and writes the structured record through to
// the store. Stops at the first malformed file; files before
// it in the request stay stored.
//
func (s *OtfGpaService) uploadHandler(c echo.Context) error {

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected multipart form upload: "+err.Error())
	}
	files := form.File["file"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files supplied, use form field 'file'")
	}

	stored := make([]StoredFile, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return httpError(errors.Wrapf(err, "cannot open upload %s", fh.Filename))
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return httpError(errors.Wrapf(err, "cannot read upload %s", fh.Filename))
		}

		sf, err := s.ingest(session(c), fh.Filename, data)
		if err != nil {
			c.Logger().Warnf("upload rejected: %v", err)
			return httpError(err)
		}
		stored = append(stored, sf)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(stored),
		"files": stored,
	})
}

//
// parse one uploaded file and store its record
//
func (s *OtfGpaService) ingest(sessionKey, filename string, data []byte) (StoredFile, error) {

	name := path.Base(filename)
	kind := record.KindOf(name)
	sf := StoredFile{File: name, Kind: kind}

	var rec interface{}
	var err error
	switch kind {
	case record.KindSection:
		sf.Key = record.StripSectionExt(name)
		rec, err = record.ParseSection(name, data)
	case record.KindGroup:
		sf.Key = record.WithGroupExt(name)
		rec, err = record.ParseGroup(name, data)
	case record.KindRun:
		sf.Key = record.WithRunExt(name)
		rec, err = record.ParseRun(name, data)
	default:
		err = &record.ParseError{
			File: name,
			Err:  errors.Errorf("unsupported file type, expected %s, %s or %s", record.SectionExt, record.GroupExt, record.RunExt),
		}
	}
	if err != nil {
		s.metrics.parseFailures.WithLabelValues(string(kind)).Inc()
		return sf, err
	}

	if err := s.store.Put(sessionKey, sf.Key, rec); err != nil {
		return sf, errors.Wrapf(err, "cannot store %s", name)
	}
	s.metrics.filesParsed.WithLabelValues(string(kind)).Inc()
	return sf, nil
}

func (s *OtfGpaService) listFilesHandler(c echo.Context) error {
	names, err := s.store.Files(session(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(names),
		"files": names,
	})
}

//
// creates the main run method
// requires an input of request variables (in json)
// run_file: name of an uploaded run manifest
// run_id: optional caller supplied id
//
func (s *OtfGpaService) computeHandler(c echo.Context) error {

	rr := &RunRequest{}
	if err := c.Bind(rr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(rr); err != nil {
		return err
	}

	runID, result, err := s.computeRun(c.Request().Context(), session(c), record.WithRunExt(rr.RunFile), rr.RunID)
	if err != nil {
		c.Logger().Error("run error: ", err)
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":         runID,
		"result":         result,
		"gpaServiceID":   s.serviceID,
		"gpaServiceName": s.serviceName,
	})
}

//
// computeRun resolves the manifest, registers the run (which reads
// as pending from then on), aggregates, and writes the snapshot
// exactly once. A failed aggregation withdraws the pending run.
//
func (s *OtfGpaService) computeRun(ctx context.Context, sessionKey, runFile, runID string) (string, *grades.RunResult, error) {

	start := time.Now()
	res := resolve.New(s.store, sessionKey)

	manifest, err := res.Manifest(ctx, runFile)
	if err != nil {
		return "", nil, err
	}

	if runID == "" {
		runID = util.GenerateID()
	}
	meta := store.RunMeta{
		RunID:     runID,
		RunFile:   runFile,
		RunName:   manifest.RunName,
		GroupRefs: manifest.GroupRefs,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(sessionKey, meta); err != nil {
		return "", nil, err
	}

	result, err := grades.Compute(ctx, manifest, res)
	if err != nil {
		s.metrics.runFailures.Inc()
		if derr := s.store.DeleteRun(sessionKey, runID); derr != nil {
			s.e.Logger.Warnf("cannot withdraw failed run %s: %v", runID, derr)
		}
		return "", nil, err
	}
	s.logMissing(runID, result)

	b, err := json.Marshal(result)
	if err != nil {
		s.metrics.runFailures.Inc()
		return "", nil, errors.Wrapf(err, "cannot encode run %s", runID)
	}
	if err := s.store.SaveResult(sessionKey, runID, b); err != nil {
		s.metrics.runFailures.Inc()
		return "", nil, err
	}
	s.results.SetDefault(cacheKey(sessionKey, runID), result)

	s.metrics.runsComputed.Inc()
	s.metrics.computeSeconds.Observe(util.TimeTrack(start, fmt.Sprintf("run %s (%s)", runID, manifest.RunName)).Seconds())
	return runID, result, nil
}

func (s *OtfGpaService) logMissing(runID string, result *grades.RunResult) {
	for _, ge := range result.GroupErrors {
		s.metrics.missingRefs.WithLabelValues("group").Inc()
		s.e.Logger.Warnf("run %s: %s", runID, ge.Error)
	}
	for _, course := range result.CourseList() {
		for _, sec := range course.Sections {
			if sec.Error != "" {
				s.metrics.missingRefs.WithLabelValues("section").Inc()
				s.e.Logger.Warnf("run %s: %s", runID, sec.Error)
			}
		}
	}
}

func (s *OtfGpaService) listRunsHandler(c echo.Context) error {
	runs, err := s.store.Runs(session(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

func (s *OtfGpaService) resultHandler(c echo.Context) error {
	result, err := s.loadResult(session(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *OtfGpaService) exportHandler(c echo.Context) error {

	runID := c.Param("id")
	result, err := s.loadResult(session(c), runID)
	if err != nil {
		return httpError(err)
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, result); err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", runID+".csv"))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func cacheKey(sessionKey, runID string) string {
	return sessionKey + "/" + runID
}

//
// loadResult returns a decoded snapshot from the cache, or loads
// it from the store; concurrent loads of one run share a single read
//
func (s *OtfGpaService) loadResult(sessionKey, runID string) (*grades.RunResult, error) {

	key := cacheKey(sessionKey, runID)
	if v, ok := s.results.Get(key); ok {
		return v.(*grades.RunResult), nil
	}

	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		b, err := s.store.LoadResult(sessionKey, runID)
		if err != nil {
			return nil, err
		}
		result := &grades.RunResult{}
		if err := json.Unmarshal(b, result); err != nil {
			return nil, errors.Wrapf(err, "corrupt snapshot for run %s", runID)
		}
		s.results.SetDefault(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grades.RunResult), nil
}

//
// map engine and store errors onto http status codes
//
func httpError(err error) *echo.HTTPError {
	var pe *record.ParseError
	switch {
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrRunNotFound), errors.Is(err, record.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrRunPending), errors.Is(err, store.ErrRunExists), errors.Is(err, store.ErrSnapshotExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
