package geo

// minDistanceTo returns the smallest distance from p to any point of path.
func minDistanceTo(p Point, path Path) float64 {
	min := Distance(p, path[0])
	for _, q := range path[1:] {
		if d := Distance(p, q); d < min {
			min = d
		}
	}
	return min
}

// SymmetricMeanDistance computes the symmetric average-minimum-distance
// between two paths in meters: for each point of a, the distance to the
// nearest point of b, averaged, and the same in the other direction, with
// the two direction means averaged together.
func SymmetricMeanDistance(a, b Path) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var sumA float64
	for _, p := range a {
		sumA += minDistanceTo(p, b)
	}
	var sumB float64
	for _, p := range b {
		sumB += minDistanceTo(p, a)
	}
	return (sumA/float64(len(a)) + sumB/float64(len(b))) / 2
}

// Similarity scores how closely lap retraces ref on a 0..1 scale using a
// linear kernel: 1 at zero average error, 0 at kernelM meters and beyond.
func Similarity(ref, lap Path, kernelM float64) float64 {
	avg := SymmetricMeanDistance(ref, lap)
	s := 1 - avg/kernelM
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
