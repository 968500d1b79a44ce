package badger

import "math"

// normalize scales v to unit length and returns a new slice.
// A zero vector stays zero.
func normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float32
	for _, val := range v {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = val / magnitude
	}
	return result
}

// cosineDistance returns 1 - cosine similarity for two unit vectors.
func cosineDistance(a, b []float32) float32 {
	return 1 - dotProduct(a, b)
}
