package grades

import "math"

// variance below this is treated as zero
const zeroVariance = 1e-12

//
// zScores standardises values against their own population
// mean and standard deviation (divide by N). A set with one
// member or no spread scores 0 everywhere.
//
func zScores(values []float64) ([]float64, Comparison) {

	n := len(values)
	z := make([]float64, n)
	if n == 0 {
		return z, Comparison{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(n)
	std := math.Sqrt(variance)

	if n <= 1 || variance < zeroVariance {
		return z, Comparison{Mean: mean, StdDev: std}
	}
	for i, v := range values {
		z[i] = (v - mean) / std
	}
	return z, Comparison{Mean: mean, StdDev: std}
}

// sectionGPA is weighted points over graded count times credit hours.
func sectionGPA(points float64, graded int, creditHours float64) float64 {
	if graded == 0 || creditHours <= 0 {
		return 0
	}
	return points / (float64(graded) * creditHours)
}

// creditGPA is weighted points over accumulated credit hours.
func creditGPA(points, credits float64) float64 {
	if credits <= 0 {
		return 0
	}
	return points / credits
}
