package grades

import (
	"regexp"
	"strings"
)

// DefaultCreditHours applies when a section carries no credit hours or its roster is missing.
const DefaultCreditHours = 3.0

// Cohort thresholds for the improvement lists.
const (
	WorkListBelow = 2.0
	GoodListFrom  = 3.3
)

// Category buckets of the coarse distribution.
const (
	CategoryW     = "W"
	CategoryOther = "Other"
)

// scaleGrades is the 12 letter scale in display order.
var scaleGrades = []string{"A", "A-", "B+", "B", "B-", "C+", "C", "C-", "D+", "D", "D-", "F"}

var gradePoints = map[string]float64{
	"A": 4.0, "A-": 3.7,
	"B+": 3.3, "B": 3.0, "B-": 2.7,
	"C+": 2.3, "C": 2.0, "C-": 1.7,
	"D+": 1.3, "D": 1.0, "D-": 0.7,
	"F": 0.0,
}

var categories = []string{"A", "B", "C", "D", "F", CategoryW, CategoryOther}

// GradePoint returns the point value of an upper-cased scale grade.
func GradePoint(grade string) (float64, bool) {
	p, ok := gradePoints[grade]
	return p, ok
}

// ScaleGrades returns the letter scale, best first.
func ScaleGrades() []string {
	return append([]string(nil), scaleGrades...)
}

// Categories returns the coarse distribution buckets in display order.
func Categories() []string {
	return append([]string(nil), categories...)
}

// Distribution counts grades by bucket.
type Distribution map[string]int

func newCategoryDistribution() Distribution {
	d := make(Distribution, len(categories))
	for _, c := range categories {
		d[c] = 0
	}
	return d
}

func newDetailedDistribution() Distribution {
	d := make(Distribution, len(scaleGrades))
	for _, g := range scaleGrades {
		d[g] = 0
	}
	return d
}

// add merges o into d.
func (d Distribution) add(o Distribution) {
	for k, v := range o {
		d[k] += v
	}
}

// leading letters followed by exactly three digits
var codePattern = regexp.MustCompile(`^([A-Za-z]+[0-9]{3})(?:[^0-9]|$)`)

// first digit of a standalone three digit run
var levelPattern = regexp.MustCompile(`(?:^|[^0-9])([0-9])[0-9]{2}(?:[^0-9]|$)`)

//
// CourseCode derives the course a section belongs to from the
// section name's leading letters+3 digits, upper-cased.
// A name without that prefix is its own course code.
//
func CourseCode(sectionName string) string {
	m := codePattern.FindStringSubmatch(sectionName)
	if m == nil {
		return sectionName
	}
	return strings.ToUpper(m[1])
}

// CourseLevel buckets a course code by the first digit of its 3 digit number.
func CourseLevel(code string) string {
	m := levelPattern.FindStringSubmatch(code)
	if m == nil {
		return "other"
	}
	switch m[1] {
	case "1":
		return "100-level"
	case "2":
		return "200-level"
	case "3":
		return "300-level"
	case "4":
		return "400-level"
	}
	return "other"
}
