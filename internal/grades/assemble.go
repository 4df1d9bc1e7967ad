package grades

import "sort"

// tolerance for float error at the cohort thresholds
const thresholdEpsilon = 1e-9

// assemble finalises students and builds the snapshot.
func (a *arena) assemble(runName string, groupCmp Comparison, groupErrs []GroupError) *RunResult {

	summary := Summary{
		TotalStudents:             a.students.Len(),
		GradeDistribution:         newCategoryDistribution(),
		DetailedGradeDistribution: newDetailedDistribution(),
	}
	for _, c := range a.courses.Values() {
		summary.GradeDistribution.add(c.GradeDistribution)
		summary.DetailedGradeDistribution.add(c.DetailedGradeDistribution)
	}

	var points float64
	for _, s := range a.students.Values() {
		s.GPA = creditGPA(s.TotalGradePoints, s.TotalCreditHours)
		points += s.TotalGradePoints
		summary.TotalCreditHours += s.TotalCreditHours
	}
	summary.OverallGPA = creditGPA(points, summary.TotalCreditHours)

	groups := a.groups
	if groups == nil {
		groups = []*GroupAggregate{}
	}
	if groupErrs == nil {
		groupErrs = []GroupError{}
	}

	return &RunResult{
		RunName:          runName,
		Groups:           groups,
		Courses:          a.courses,
		ClassTypes:       a.levels,
		Students:         a.students,
		ImprovementLists: improvementLists(a.students.Values()),
		GroupComparison:  groupCmp,
		Summary:          summary,
		GroupErrors:      groupErrs,
	}
}

//
// improvementLists splits graded students into the work list
// (GPA below 2.0, lowest first) and the good list (GPA 3.3 and
// up, highest first). Students with no credit hours have no GPA
// and appear in neither.
//
func improvementLists(students []*StudentAggregate) ImprovementLists {

	lists := ImprovementLists{WorkList: []ImprovementEntry{}, GoodList: []ImprovementEntry{}}
	for _, s := range students {
		if s.TotalCreditHours <= 0 {
			continue
		}
		e := ImprovementEntry{StudentID: s.StudentID, Name: s.Name, GPA: s.GPA, TotalCreditHours: s.TotalCreditHours}
		switch {
		case s.GPA < WorkListBelow-thresholdEpsilon:
			lists.WorkList = append(lists.WorkList, e)
		case s.GPA >= GoodListFrom-thresholdEpsilon:
			lists.GoodList = append(lists.GoodList, e)
		}
	}

	sort.SliceStable(lists.WorkList, func(i, j int) bool {
		a, b := lists.WorkList[i], lists.WorkList[j]
		if a.GPA != b.GPA {
			return a.GPA < b.GPA
		}
		return a.StudentID < b.StudentID
	})
	sort.SliceStable(lists.GoodList, func(i, j int) bool {
		a, b := lists.GoodList[i], lists.GoodList[j]
		if a.GPA != b.GPA {
			return a.GPA > b.GPA
		}
		return a.StudentID < b.StudentID
	})
	return lists
}
