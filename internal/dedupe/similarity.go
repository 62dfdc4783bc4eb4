package dedupe

import "math"

// Similarity compares two hashes position by position over their common
// length and returns the percentage of equal characters, rounded to the
// nearest integer. It says nothing about how alike the documents are: two
// unrelated files whose hashes share leading digits score high.
func Similarity(a, b string) int {
	overlap := len(a)
	if len(b) < overlap {
		overlap = len(b)
	}
	if overlap == 0 {
		return 0
	}
	matching := 0
	for i := 0; i < overlap; i++ {
		if a[i] == b[i] {
			matching++
		}
	}
	return int(math.Round(100 * float64(matching) / float64(overlap)))
}
