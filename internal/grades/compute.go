//
// Package grades is the aggregation engine: it walks a run's
// groups, courses, sections and students, accumulates credit
// weighted GPA statistics at every level and derives z-scores
// across sibling entities.
//
// A run is one synchronous pass. All state lives in an arena
// created per Compute call, so concurrent runs share nothing.
//
package grades

import (
	"context"
	"strings"

	"github.com/nsip/otf-gpa/internal/record"
	"github.com/pkg/errors"
)

// arena holds the first-seen keyed aggregates of one run.
type arena struct {
	courses  *Ordered[*CourseAggregate]
	levels   *Ordered[*LevelAggregate]
	students *Ordered[*StudentAggregate]
	groups   []*GroupAggregate
}

func newArena() *arena {
	return &arena{
		courses:  newOrdered[*CourseAggregate](),
		levels:   newOrdered[*LevelAggregate](),
		students: newOrdered[*StudentAggregate](),
	}
}

//
// Compute aggregates every group the manifest names and returns
// the finished snapshot. Missing group or section files become
// inline error entries; the run only fails on a resolver error
// other than record.ErrNotFound, or a cancelled context.
//
func Compute(ctx context.Context, manifest *record.RunManifest, res Resolver) (*RunResult, error) {

	if manifest == nil {
		return nil, errors.New("nil run manifest")
	}

	a := newArena()
	var groupErrs []GroupError

	for _, ref := range manifest.GroupRefs {
		grp, err := res.Group(ctx, ref)
		if errors.Is(err, record.ErrNotFound) {
			groupErrs = append(groupErrs, GroupError{GroupFile: ref, Error: err.Error()})
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "run %s", manifest.RunName)
		}

		ga, err := a.foldGroup(ctx, ref, grp, res)
		if err != nil {
			return nil, errors.Wrapf(err, "run %s: group %s", manifest.RunName, ref)
		}
		a.groups = append(a.groups, ga)
	}

	a.finishCourses()
	groupCmp := a.score()

	return a.assemble(manifest.RunName, groupCmp, groupErrs), nil
}

//
// foldGroup folds one group's unique sections into the run-wide
// course and level aggregates, bucketing sections by course code.
//
func (a *arena) foldGroup(ctx context.Context, ref string, grp *record.GroupRecord, res Resolver) (*GroupAggregate, error) {

	refs := grp.UniqueSectionRefs()
	ga := &GroupAggregate{
		GroupFile:           ref,
		GroupName:           grp.GroupName,
		SectionRefs:         refs,
		CourseCodes:         []string{},
		CourseZScores:       map[string]float64{},
		SectionGPAs:         map[string]float64{},
		SectionGroupZScores: map[string]float64{},
	}

	buckets := newOrdered[[]string]()
	for _, name := range refs {
		code := CourseCode(name)
		names, _ := buckets.Get(code)
		buckets.Set(code, append(names, name))
	}

	for _, code := range buckets.Keys() {
		course := a.course(code)
		ga.CourseCodes = append(ga.CourseCodes, code)

		names, _ := buckets.Get(code)
		for _, name := range names {
			sec, err := res.Section(ctx, name)
			if err != nil && !errors.Is(err, record.ErrNotFound) {
				return nil, err
			}
			sa := a.foldSection(course, name, sec)
			if err != nil {
				sa.Error = err.Error()
				continue
			}
			ga.SectionGPAs[name] = rosterGPA(sec)
			ga.sectionOrder = append(ga.sectionOrder, name)
		}
	}

	return ga, nil
}

// course returns the run-wide aggregate for code, creating it and its level on first sight.
func (a *arena) course(code string) *CourseAggregate {

	if c, ok := a.courses.Get(code); ok {
		return c
	}

	level := CourseLevel(code)
	c := &CourseAggregate{
		CourseCode:                code,
		CourseLevel:               level,
		Sections:                  []*SectionAggregate{},
		GradeDistribution:         newCategoryDistribution(),
		DetailedGradeDistribution: newDetailedDistribution(),
		StudentPerformance:        []StudentGrade{},
	}
	a.courses.Set(code, c)

	lv, ok := a.levels.Get(level)
	if !ok {
		lv = &LevelAggregate{
			CourseLevel:               level,
			CourseCodes:               []string{},
			GradeDistribution:         newCategoryDistribution(),
			DetailedGradeDistribution: newDetailedDistribution(),
		}
		a.levels.Set(level, lv)
	}
	lv.CourseCodes = append(lv.CourseCodes, code)

	return c
}

//
// foldSection adds one roster to its course, the course's level and
// the student ledger. sec is nil when the roster is missing, which
// leaves an empty section slot at the default credit hours.
//
func (a *arena) foldSection(course *CourseAggregate, name string, sec *record.SectionRecord) *SectionAggregate {

	credits := DefaultCreditHours
	if sec != nil && sec.CreditHours != nil {
		credits = *sec.CreditHours
	}

	sa := &SectionAggregate{
		SectionName:               name,
		CourseCode:                course.CourseCode,
		CourseLevel:               course.CourseLevel,
		CreditHours:               credits,
		GradeDistribution:         newCategoryDistribution(),
		DetailedGradeDistribution: newDetailedDistribution(),
		StudentPerformance:        []StudentGrade{},
	}
	course.Sections = append(course.Sections, sa)
	if sec == nil {
		return sa
	}

	level, _ := a.levels.Get(course.CourseLevel)
	for _, g := range sec.GradeRecords {
		grade := strings.ToUpper(strings.TrimSpace(g.LetterGrade))

		sa.TotalStudents++
		course.TotalStudents++
		level.TotalStudents++

		point, graded := GradePoint(grade)
		switch {
		case graded:
			weighted := point * credits
			cat := grade[:1]

			sa.GradedStudents++
			sa.TotalGradePoints += weighted
			sa.GradeDistribution[cat]++
			sa.DetailedGradeDistribution[grade]++

			course.TotalGradePoints += weighted
			course.TotalCreditHours += credits
			course.GradeDistribution[cat]++
			course.DetailedGradeDistribution[grade]++

			level.TotalGradePoints += weighted
			level.TotalCreditHours += credits
			level.GradeDistribution[cat]++
			level.DetailedGradeDistribution[grade]++

			perf := StudentGrade{
				StudentID:   g.StudentID,
				Name:        g.StudentName,
				Section:     name,
				Grade:       grade,
				GradePoint:  point,
				CreditHours: credits,
			}
			sa.StudentPerformance = append(sa.StudentPerformance, perf)
			course.StudentPerformance = append(course.StudentPerformance, perf)

			a.student(g.StudentID, g.StudentName).add(CourseDetail{
				CourseCode:  course.CourseCode,
				Section:     name,
				Grade:       grade,
				GradePoint:  point,
				CreditHours: credits,
			})

		case grade == CategoryW:
			sa.GradeDistribution[CategoryW]++
			course.GradeDistribution[CategoryW]++
			level.GradeDistribution[CategoryW]++

		default:
			sa.GradeDistribution[CategoryOther]++
			course.GradeDistribution[CategoryOther]++
			level.GradeDistribution[CategoryOther]++
		}
	}

	sa.AverageGPA = sectionGPA(sa.TotalGradePoints, sa.GradedStudents, credits)
	return sa
}

func (a *arena) student(id, name string) *StudentAggregate {
	if s, ok := a.students.Get(id); ok {
		return s
	}
	s := &StudentAggregate{StudentID: id, Name: name, Courses: []CourseDetail{}}
	a.students.Set(id, s)
	return s
}

func (s *StudentAggregate) add(cd CourseDetail) {
	s.Courses = append(s.Courses, cd)
	s.TotalGradePoints += cd.GradePoint * cd.CreditHours
	s.TotalCreditHours += cd.CreditHours
	s.TotalCourses++
}

// finishCourses sets course and level GPAs once every group has been folded.
func (a *arena) finishCourses() {
	for _, c := range a.courses.Values() {
		c.AverageGPA = creditGPA(c.TotalGradePoints, c.TotalCreditHours)
	}
	for _, lv := range a.levels.Values() {
		lv.AverageGPA = creditGPA(lv.TotalGradePoints, lv.TotalCreditHours)
	}
}

// rosterGPA computes a section's GPA straight from its roster.
func rosterGPA(sec *record.SectionRecord) float64 {

	credits := DefaultCreditHours
	if sec.CreditHours != nil {
		credits = *sec.CreditHours
	}

	var points float64
	var graded int
	for _, g := range sec.GradeRecords {
		if p, ok := GradePoint(strings.ToUpper(strings.TrimSpace(g.LetterGrade))); ok {
			points += p * credits
			graded++
		}
	}
	return sectionGPA(points, graded, credits)
}
