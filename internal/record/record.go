//
// Package record holds the structured forms of the three
// upload file kinds (section rosters, group manifests and
// run manifests) and the parsers that produce them from raw text.
//
package record

import (
	"path"
	"strings"
)

const (
	// SectionExt marks a section roster file.
	SectionExt = ".sec"
	// GroupExt marks a group manifest file.
	GroupExt = ".grp"
	// RunExt marks a run manifest file.
	RunExt = ".run"
)

// Kind identifies which parser a file should go through.
type Kind string

const (
	KindSection Kind = "section"
	KindGroup   Kind = "group"
	KindRun     Kind = "run"
	KindUnknown Kind = "unknown"
)

//
// one row of a section roster
//
type GradeRecord struct {
	StudentName string `json:"student_name"`
	StudentID   string `json:"student_id"`
	LetterGrade string `json:"letter_grade"`
}

//
// a parsed section roster.
// CreditHours is nil when the header did not carry a value,
// consumers default it (see grades.DefaultCreditHours).
//
type SectionRecord struct {
	SectionName  string        `json:"section_name"`
	Semester     string        `json:"semester,omitempty"`
	CreditHours  *float64      `json:"credit_hours"`
	GradeRecords []GradeRecord `json:"grade_records"`
}

//
// a parsed group manifest, section refs are
// extension-stripped and kept in file order
//
type GroupRecord struct {
	GroupName   string   `json:"group_name"`
	SectionRefs []string `json:"section_refs"`
}

//
// a parsed run manifest, group refs always
// carry the group file extension
//
type RunManifest struct {
	RunName   string   `json:"run_name"`
	GroupRefs []string `json:"group_refs"`
}

// KindOf classifies a file name by its extension, ignoring case.
func KindOf(filename string) Kind {
	switch strings.ToLower(path.Ext(filename)) {
	case SectionExt:
		return KindSection
	case GroupExt:
		return KindGroup
	case RunExt:
		return KindRun
	}
	return KindUnknown
}

// StripSectionExt removes a trailing section extension (any case).
func StripSectionExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), SectionExt) {
		return name[:len(name)-len(SectionExt)]
	}
	return name
}

// WithGroupExt appends the group extension unless the name already ends with it (any case).
func WithGroupExt(name string) string {
	return withExt(name, GroupExt)
}

// WithRunExt appends the run extension unless the name already ends with it (any case).
func WithRunExt(name string) string {
	return withExt(name, RunExt)
}

func withExt(name, ext string) string {
	if strings.HasSuffix(strings.ToLower(name), ext) {
		return name
	}
	return name + ext
}

// UniqueSectionRefs returns the refs with duplicates removed, first occurrence wins.
func (g *GroupRecord) UniqueSectionRefs() []string {
	seen := make(map[string]struct{}, len(g.SectionRefs))
	out := make([]string, 0, len(g.SectionRefs))
	for _, ref := range g.SectionRefs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
