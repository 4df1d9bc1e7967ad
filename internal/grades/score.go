package grades

//
// score runs the comparative passes over the folded arena and
// returns the run-wide group comparison. Each pass is a
// population z-score over one sibling set.
//
func (a *arena) score() Comparison {

	// sections within their course; missing rosters sit out
	for _, c := range a.courses.Values() {
		var present []*SectionAggregate
		var gpas []float64
		for _, s := range c.Sections {
			if s.Error != "" {
				continue
			}
			present = append(present, s)
			gpas = append(gpas, s.AverageGPA)
		}
		z, _ := zScores(gpas)
		for i, s := range present {
			s.ZScore = z[i]
		}
	}

	// courses within their level: the g-score; courses with no roster sit out
	for _, lv := range a.levels.Values() {
		courses := make([]*CourseAggregate, 0, len(lv.CourseCodes))
		gpas := make([]float64, 0, len(lv.CourseCodes))
		for _, code := range lv.CourseCodes {
			c, _ := a.courses.Get(code)
			if !c.available() {
				continue
			}
			courses = append(courses, c)
			gpas = append(gpas, c.AverageGPA)
		}
		z, cmp := zScores(gpas)
		for i, c := range courses {
			c.GScore = z[i]
		}
		lv.Mean, lv.StdDev = cmp.Mean, cmp.StdDev
	}

	for _, g := range a.groups {
		scoreGroupCourses(g, a.courses)
		scoreGroupSections(g)
	}

	return a.scoreGroups()
}

// available reports whether at least one of the course's rosters was found.
func (c *CourseAggregate) available() bool {
	for _, s := range c.Sections {
		if s.Error == "" {
			return true
		}
	}
	return false
}

func scoreGroupCourses(g *GroupAggregate, courses *Ordered[*CourseAggregate]) {
	codes := make([]string, 0, len(g.CourseCodes))
	gpas := make([]float64, 0, len(g.CourseCodes))
	for _, code := range g.CourseCodes {
		g.CourseZScores[code] = 0
		c, _ := courses.Get(code)
		if !c.available() {
			continue
		}
		codes = append(codes, code)
		gpas = append(gpas, c.AverageGPA)
	}
	z, _ := zScores(gpas)
	for i, code := range codes {
		g.CourseZScores[code] = z[i]
	}
}

// scoreGroupSections compares every available section in a group regardless of course.
func scoreGroupSections(g *GroupAggregate) {
	gpas := make([]float64, 0, len(g.sectionOrder))
	for _, name := range g.sectionOrder {
		gpas = append(gpas, g.SectionGPAs[name])
	}
	z, cmp := zScores(gpas)
	for i, name := range g.sectionOrder {
		g.SectionGroupZScores[name] = z[i]
	}
	g.SectionMean, g.SectionStdDev = cmp.Mean, cmp.StdDev
}

//
// scoreGroups sets each group's GPA as the student-count weighted
// mean of its courses' GPAs, then z-scores groups across the run.
// Groups none of whose sections were found keep a zero z-score and
// stay out of the run comparison.
//
func (a *arena) scoreGroups() Comparison {

	scored := make([]*GroupAggregate, 0, len(a.groups))
	gpas := make([]float64, 0, len(a.groups))
	for _, g := range a.groups {
		var weighted float64
		var students int
		for _, code := range g.CourseCodes {
			c, _ := a.courses.Get(code)
			weighted += c.AverageGPA * float64(c.TotalStudents)
			students += c.TotalStudents
		}
		g.TotalStudents = students
		if students > 0 {
			g.AverageGPA = weighted / float64(students)
		}
		if len(g.sectionOrder) == 0 {
			continue
		}
		scored = append(scored, g)
		gpas = append(gpas, g.AverageGPA)
	}

	z, cmp := zScores(gpas)
	for i, g := range scored {
		g.ZScore = z[i]
	}
	return cmp
}
