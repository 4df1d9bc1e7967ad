package grades

import (
	"context"
	"encoding/json"

	"github.com/nsip/otf-gpa/internal/record"
)

//
// Resolver supplies parsed records to the engine. Lookups for
// records that were never uploaded must return an error wrapping
// record.ErrNotFound; those become inline error entries, any other
// error aborts the run.
//
type Resolver interface {
	Group(ctx context.Context, ref string) (*record.GroupRecord, error)
	Section(ctx context.Context, name string) (*record.SectionRecord, error)
}

// StudentGrade is one graded student within a section or course.
type StudentGrade struct {
	StudentID   string  `json:"student_id"`
	Name        string  `json:"name"`
	Section     string  `json:"section"`
	Grade       string  `json:"grade"`
	GradePoint  float64 `json:"grade_point"`
	CreditHours float64 `json:"credit_hours"`
}

type SectionAggregate struct {
	SectionName               string         `json:"section_name"`
	CourseCode                string         `json:"course_code"`
	CourseLevel               string         `json:"course_level"`
	CreditHours               float64        `json:"credit_hours"`
	TotalStudents             int            `json:"total_students"`
	GradedStudents            int            `json:"graded_students"`
	TotalGradePoints          float64        `json:"total_grade_points"`
	GradeDistribution         Distribution   `json:"grade_distribution"`
	DetailedGradeDistribution Distribution   `json:"detailed_grade_distribution"`
	AverageGPA                float64        `json:"average_gpa"`
	ZScore                    float64        `json:"z_score"`
	StudentPerformance        []StudentGrade `json:"student_performance"`
	Error                     string         `json:"error,omitempty"`
}

type CourseAggregate struct {
	CourseCode                string              `json:"course_code"`
	CourseLevel               string              `json:"course_level"`
	TotalStudents             int                 `json:"total_students"`
	Sections                  []*SectionAggregate `json:"sections"`
	GradeDistribution         Distribution        `json:"grade_distribution"`
	DetailedGradeDistribution Distribution        `json:"detailed_grade_distribution"`
	TotalGradePoints          float64             `json:"total_grade_points"`
	TotalCreditHours          float64             `json:"total_credit_hours"`
	AverageGPA                float64             `json:"average_gpa"`
	GScore                    float64             `json:"g_score"`
	StudentPerformance        []StudentGrade      `json:"student_performance"`
}

// LevelAggregate rolls up every course sharing a course level.
type LevelAggregate struct {
	CourseLevel               string       `json:"course_level"`
	CourseCodes               []string     `json:"course_codes"`
	TotalStudents             int          `json:"total_students"`
	GradeDistribution         Distribution `json:"grade_distribution"`
	DetailedGradeDistribution Distribution `json:"detailed_grade_distribution"`
	TotalGradePoints          float64      `json:"total_grade_points"`
	TotalCreditHours          float64      `json:"total_credit_hours"`
	AverageGPA                float64      `json:"average_gpa"`
	Mean                      float64      `json:"mean"`
	StdDev                    float64      `json:"std_dev"`
}

type GroupAggregate struct {
	GroupFile           string             `json:"group_file"`
	GroupName           string             `json:"group_name"`
	SectionRefs         []string           `json:"section_refs"`
	CourseCodes         []string           `json:"course_codes"`
	TotalStudents       int                `json:"total_students"`
	AverageGPA          float64            `json:"average_gpa"`
	ZScore              float64            `json:"z_score"`
	CourseZScores       map[string]float64 `json:"course_z_scores"`
	SectionGPAs         map[string]float64 `json:"section_gpas"`
	SectionGroupZScores map[string]float64 `json:"section_group_z_scores"`
	SectionMean         float64            `json:"section_mean"`
	SectionStdDev       float64            `json:"section_std_dev"`

	// available sections in ref order, for the intra-group pass
	sectionOrder []string
}

// CourseDetail is one graded course on a student's record.
type CourseDetail struct {
	CourseCode  string  `json:"course_code"`
	Section     string  `json:"section"`
	Grade       string  `json:"grade"`
	GradePoint  float64 `json:"grade_point"`
	CreditHours float64 `json:"credit_hours"`
}

type StudentAggregate struct {
	StudentID        string         `json:"student_id"`
	Name             string         `json:"name"`
	TotalGradePoints float64        `json:"total_grade_points"`
	TotalCreditHours float64        `json:"total_credit_hours"`
	TotalCourses     int            `json:"total_courses"`
	GPA              float64        `json:"gpa"`
	Courses          []CourseDetail `json:"courses"`
}

type ImprovementEntry struct {
	StudentID        string  `json:"student_id"`
	Name             string  `json:"name"`
	GPA              float64 `json:"gpa"`
	TotalCreditHours float64 `json:"total_credit_hours"`
}

type ImprovementLists struct {
	WorkList []ImprovementEntry `json:"work_list"`
	GoodList []ImprovementEntry `json:"good_list"`
}

// Comparison is the population mean and standard deviation of a sibling set.
type Comparison struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

type Summary struct {
	TotalStudents             int          `json:"total_students"`
	GradeDistribution         Distribution `json:"grade_distribution"`
	DetailedGradeDistribution Distribution `json:"detailed_grade_distribution"`
	OverallGPA                float64      `json:"overall_gpa"`
	TotalCreditHours          float64      `json:"total_credit_hours"`
}

// GroupError records a group file a run referenced but could not load.
type GroupError struct {
	GroupFile string `json:"group_file"`
	Error     string `json:"error"`
}

//
// RunResult is the immutable snapshot of one run.
// Courses, ClassTypes and Students keep first-seen order.
//
type RunResult struct {
	RunName          string                      `json:"run_name"`
	Groups           []*GroupAggregate           `json:"groups"`
	Courses          *Ordered[*CourseAggregate]  `json:"courses"`
	ClassTypes       *Ordered[*LevelAggregate]   `json:"class_types"`
	Students         *Ordered[*StudentAggregate] `json:"students"`
	ImprovementLists ImprovementLists            `json:"improvement_lists"`
	GroupComparison  Comparison                  `json:"group_comparison"`
	Summary          Summary                     `json:"summary"`
	GroupErrors      []GroupError                `json:"group_errors"`
}

// CourseList is the list view of Courses, in the same order.
func (r *RunResult) CourseList() []*CourseAggregate {
	return r.Courses.Values()
}

// MarshalJSON emits the keyed course map alongside its derived list view.
func (r *RunResult) MarshalJSON() ([]byte, error) {
	type plain RunResult
	return json.Marshal(struct {
		*plain
		CourseList []*CourseAggregate `json:"course_list"`
	}{
		plain:      (*plain)(r),
		CourseList: r.CourseList(),
	})
}
