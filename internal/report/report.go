//
// Package report renders a run snapshot as a single csv
// spreadsheet: one block per table, separated by an empty row.
//
package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/nsip/otf-gpa/internal/grades"
	"github.com/pkg/errors"
)

func gpa(v float64) string    { return strconv.FormatFloat(v, 'f', 2, 64) }
func zscore(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

// WriteCSV writes every table of the snapshot to w.
func WriteCSV(w io.Writer, r *grades.RunResult) error {

	cw := csv.NewWriter(w)
	blocks := []func(*csv.Writer, *grades.RunResult) error{
		writeSummary,
		writeGroups,
		writeCourses,
		writeSections,
		writeStudents,
		writeImprovement,
	}
	for i, block := range blocks {
		if i > 0 {
			if err := cw.Write([]string{}); err != nil {
				return errors.Wrap(err, "cannot write report")
			}
		}
		if err := block(cw, r); err != nil {
			return errors.Wrap(err, "cannot write report")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "cannot flush report")
}

func writeSummary(cw *csv.Writer, r *grades.RunResult) error {
	rows := [][]string{
		{"Run", r.RunName},
		{"Total Students", strconv.Itoa(r.Summary.TotalStudents)},
		{"Overall GPA", gpa(r.Summary.OverallGPA)},
		{"Total Credit Hours", gpa(r.Summary.TotalCreditHours)},
		{"Group Mean GPA", gpa(r.GroupComparison.Mean)},
		{"Group Std Dev", gpa(r.GroupComparison.StdDev)},
	}
	for _, c := range grades.Categories() {
		rows = append(rows, []string{"Grade " + c, strconv.Itoa(r.Summary.GradeDistribution[c])})
	}
	for _, ge := range r.GroupErrors {
		rows = append(rows, []string{"Missing Group", ge.GroupFile, ge.Error})
	}
	return cw.WriteAll(rows)
}

func writeGroups(cw *csv.Writer, r *grades.RunResult) error {
	if err := cw.Write([]string{"Group", "File", "Courses", "Students", "Average GPA", "Z-Score"}); err != nil {
		return err
	}
	for _, g := range r.Groups {
		err := cw.Write([]string{
			g.GroupName,
			g.GroupFile,
			strconv.Itoa(len(g.CourseCodes)),
			strconv.Itoa(g.TotalStudents),
			gpa(g.AverageGPA),
			zscore(g.ZScore),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeCourses(cw *csv.Writer, r *grades.RunResult) error {
	header := []string{"Course", "Level", "Students", "Average GPA", "G-Score"}
	header = append(header, grades.Categories()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range r.CourseList() {
		row := []string{c.CourseCode, c.CourseLevel, strconv.Itoa(c.TotalStudents), gpa(c.AverageGPA), zscore(c.GScore)}
		for _, cat := range grades.Categories() {
			row = append(row, strconv.Itoa(c.GradeDistribution[cat]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeSections(cw *csv.Writer, r *grades.RunResult) error {
	if err := cw.Write([]string{"Section", "Course", "Credit Hours", "Students", "Average GPA", "Z-Score", "Error"}); err != nil {
		return err
	}
	for _, c := range r.CourseList() {
		for _, s := range c.Sections {
			err := cw.Write([]string{
				s.SectionName,
				s.CourseCode,
				gpa(s.CreditHours),
				strconv.Itoa(s.TotalStudents),
				gpa(s.AverageGPA),
				zscore(s.ZScore),
				s.Error,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeStudents(cw *csv.Writer, r *grades.RunResult) error {
	if err := cw.Write([]string{"Student ID", "Name", "Courses", "Credit Hours", "GPA"}); err != nil {
		return err
	}
	for _, s := range r.Students.Values() {
		err := cw.Write([]string{
			s.StudentID,
			s.Name,
			strconv.Itoa(s.TotalCourses),
			gpa(s.TotalCreditHours),
			gpa(s.GPA),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeImprovement(cw *csv.Writer, r *grades.RunResult) error {
	if err := cw.Write([]string{"List", "Student ID", "Name", "GPA"}); err != nil {
		return err
	}
	lists := []struct {
		name    string
		entries []grades.ImprovementEntry
	}{
		{"Work", r.ImprovementLists.WorkList},
		{"Good", r.ImprovementLists.GoodList},
	}
	for _, l := range lists {
		for _, e := range l.entries {
			if err := cw.Write([]string{l.name, e.StudentID, e.Name, gpa(e.GPA)}); err != nil {
				return err
			}
		}
	}
	return nil
}
