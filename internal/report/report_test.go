package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/nsip/otf-gpa/internal/grades"
	"github.com/nsip/otf-gpa/internal/record"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct{}

func (staticResolver) Group(_ context.Context, ref string) (*record.GroupRecord, error) {
	if ref != "cs.grp" {
		return nil, errors.Wrapf(record.ErrNotFound, "group file %s", ref)
	}
	return &record.GroupRecord{GroupName: "CS", SectionRefs: []string{"COMSC101A", "COMSC101B"}}, nil
}

func (staticResolver) Section(_ context.Context, name string) (*record.SectionRecord, error) {
	three := 3.0
	switch name {
	case "COMSC101A":
		return &record.SectionRecord{SectionName: "COMSC101", CreditHours: &three, GradeRecords: []record.GradeRecord{
			{StudentName: "Ann", StudentID: "1", LetterGrade: "A"},
			{StudentName: "Bob", StudentID: "2", LetterGrade: "A"},
		}}, nil
	case "COMSC101B":
		return &record.SectionRecord{SectionName: "COMSC101", CreditHours: &three, GradeRecords: []record.GradeRecord{
			{StudentName: "Cat", StudentID: "3", LetterGrade: "D"},
			{StudentName: "Dan", StudentID: "4", LetterGrade: "W"},
		}}, nil
	}
	return nil, errors.Wrapf(record.ErrNotFound, "section file %s", name)
}

func TestWriteCSV(t *testing.T) {
	manifest := &record.RunManifest{RunName: "Fall", GroupRefs: []string{"cs.grp", "gone.grp"}}
	result, err := grades.Compute(context.Background(), manifest, staticResolver{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, result))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Run,Fall\n"))
	assert.Contains(t, out, "Missing Group,gone.grp,")
	assert.Contains(t, out, "CS,cs.grp,1,4,")
	assert.Contains(t, out, "COMSC101,100-level,4,3.00,0.000,2,0,0,1,0,1,0\n")
	assert.Contains(t, out, "COMSC101A,COMSC101,3.00,2,4.00,1.000,\n")
	assert.Contains(t, out, "COMSC101B,COMSC101,3.00,2,1.00,-1.000,\n")
	assert.Contains(t, out, "Work,3,Cat,1.00\n")
	assert.Contains(t, out, "Good,1,Ann,4.00\n")
	assert.Contains(t, out, "Good,2,Bob,4.00\n")

	// every block is valid csv
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	_, err = r.ReadAll()
	require.NoError(t, err)
}
