package record

import (
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyFile is returned (wrapped in a *ParseError) for input with no content lines.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNotFound marks a referenced group or section that has not been uploaded.
	ErrNotFound = errors.New("record not found")
)

//
// ParseError reports a malformed upload file.
// Row is the 1-based physical row (the header is row 1),
// zero when the problem is not tied to a row.
//
type ParseError struct {
	File string
	Row  int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s: row %d: %v", e.File, e.Row, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

//
// ParseSection turns a roster file into a SectionRecord.
//
// The header is either whitespace form `<course> [<credits>]`
// or csv form `<course>, <semester>, [<credits>]`, told apart by
// the csv field count. Every following non-blank row needs at
// least name, student id and grade; extra columns are ignored.
// Any malformed line fails the whole file.
//
func ParseSection(filename string, data []byte) (*SectionRecord, error) {

	lines := trimLeadingBlank(splitLines(string(data)))
	if len(lines) == 0 {
		return nil, &ParseError{File: filename, Err: ErrEmptyFile}
	}

	sec, err := parseSectionHeader(lines[0])
	if err != nil {
		return nil, &ParseError{File: filename, Row: 1, Err: err}
	}

	sec.GradeRecords = make([]GradeRecord, 0, len(lines)-1)
	for i, line := range lines[1:] {
		row := i + 2
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := csvFields(line)
		if err != nil {
			return nil, &ParseError{File: filename, Row: row, Err: err}
		}
		if len(fields) < 3 {
			return nil, &ParseError{
				File: filename,
				Row:  row,
				Err:  errors.Errorf("expected at least 3 fields (name, id, grade), got %d", len(fields)),
			}
		}
		sec.GradeRecords = append(sec.GradeRecords, GradeRecord{
			StudentName: fields[0],
			StudentID:   fields[1],
			LetterGrade: fields[2],
		})
	}

	return sec, nil
}

func parseSectionHeader(line string) (*SectionRecord, error) {

	fields, err := csvFields(line)
	if err != nil {
		return nil, err
	}

	sec := &SectionRecord{}
	var credits string
	if len(fields) >= 2 {
		sec.SectionName = fields[0]
		sec.Semester = fields[1]
		if len(fields) > 2 {
			credits = fields[2]
		}
	} else {
		tokens := strings.Fields(line)
		if len(tokens) > 0 {
			sec.SectionName = tokens[0]
		}
		if len(tokens) > 1 {
			credits = tokens[1]
		}
	}

	if sec.SectionName == "" {
		return nil, errors.New("header is missing the course name")
	}
	if credits != "" {
		ch, err := strconv.ParseFloat(credits, 64)
		if err != nil || math.IsNaN(ch) || math.IsInf(ch, 0) || ch < 0 {
			return nil, errors.Errorf("invalid credit hours %q", credits)
		}
		sec.CreditHours = &ch
	}

	return sec, nil
}

//
// ParseGroup reads a group manifest: the first non-blank line
// is the group name, the rest are section refs with any section
// extension stripped.
//
func ParseGroup(filename string, data []byte) (*GroupRecord, error) {

	lines := nonBlank(splitLines(string(data)))
	if len(lines) == 0 {
		return nil, &ParseError{File: filename, Err: ErrEmptyFile}
	}

	grp := &GroupRecord{GroupName: lines[0], SectionRefs: make([]string, 0, len(lines)-1)}
	for _, l := range lines[1:] {
		grp.SectionRefs = append(grp.SectionRefs, StripSectionExt(l))
	}
	return grp, nil
}

//
// ParseRun reads a run manifest: the first non-blank line is
// the run name, the rest are group refs normalised to carry
// the group extension.
//
func ParseRun(filename string, data []byte) (*RunManifest, error) {

	lines := nonBlank(splitLines(string(data)))
	if len(lines) == 0 {
		return nil, &ParseError{File: filename, Err: ErrEmptyFile}
	}

	run := &RunManifest{RunName: lines[0], GroupRefs: make([]string, 0, len(lines)-1)}
	for _, l := range lines[1:] {
		run.GroupRefs = append(run.GroupRefs, WithGroupExt(l))
	}
	return run, nil
}

func csvFields(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "cannot tokenize row")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

func trimLeadingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}
