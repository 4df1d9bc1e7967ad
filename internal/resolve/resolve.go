//
// Package resolve finds previously parsed group and section
// records for one session. Records are kept as json in the
// keyed store and read back field by field.
//
package resolve

import (
	"context"

	"github.com/nsip/otf-gpa/internal/record"
	"github.com/nsip/otf-gpa/internal/store"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Getter is the read side of the keyed store.
type Getter interface {
	Get(session, name string) ([]byte, error)
}

//
// Resolver looks records up by file name within a session.
// A name that was never uploaded resolves to an error wrapping
// record.ErrNotFound, anything else is a storage failure.
//
type Resolver struct {
	files   Getter
	session string
}

// New scopes a resolver to one session's files.
func New(files Getter, session string) *Resolver {
	return &Resolver{files: files, session: session}
}

// Group loads a group record by its group file name.
func (r *Resolver) Group(ctx context.Context, ref string) (*record.GroupRecord, error) {

	res, err := r.lookup(ctx, ref, "group")
	if err != nil {
		return nil, err
	}

	grp := &record.GroupRecord{
		GroupName:   res.Get("group_name").String(),
		SectionRefs: []string{},
	}
	for _, s := range res.Get("section_refs").Array() {
		grp.SectionRefs = append(grp.SectionRefs, s.String())
	}
	return grp, nil
}

// Section loads a section record by its extension-stripped name.
func (r *Resolver) Section(ctx context.Context, name string) (*record.SectionRecord, error) {

	res, err := r.lookup(ctx, name, "section")
	if err != nil {
		return nil, err
	}

	sec := &record.SectionRecord{
		SectionName:  res.Get("section_name").String(),
		Semester:     res.Get("semester").String(),
		GradeRecords: []record.GradeRecord{},
	}
	// null or absent credit hours stay nil
	if ch := res.Get("credit_hours"); ch.Type == gjson.Number {
		v := ch.Float()
		sec.CreditHours = &v
	}
	res.Get("grade_records").ForEach(func(_, g gjson.Result) bool {
		sec.GradeRecords = append(sec.GradeRecords, record.GradeRecord{
			StudentName: g.Get("student_name").String(),
			StudentID:   g.Get("student_id").String(),
			LetterGrade: g.Get("letter_grade").String(),
		})
		return true
	})
	return sec, nil
}

// Manifest loads a run manifest by its run file name.
func (r *Resolver) Manifest(ctx context.Context, name string) (*record.RunManifest, error) {

	res, err := r.lookup(ctx, name, "run")
	if err != nil {
		return nil, err
	}

	run := &record.RunManifest{
		RunName:   res.Get("run_name").String(),
		GroupRefs: []string{},
	}
	for _, g := range res.Get("group_refs").Array() {
		run.GroupRefs = append(run.GroupRefs, g.String())
	}
	return run, nil
}

func (r *Resolver) lookup(ctx context.Context, name, kind string) (gjson.Result, error) {

	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}

	raw, err := r.files.Get(r.session, name)
	if errors.Is(err, store.ErrNotFound) {
		return gjson.Result{}, errors.Wrapf(record.ErrNotFound, "%s file %s", kind, name)
	}
	if err != nil {
		return gjson.Result{}, errors.Wrapf(err, "cannot read %s file %s", kind, name)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, errors.Errorf("%s file %s: stored record is not valid json", kind, name)
	}
	return gjson.ParseBytes(raw), nil
}
