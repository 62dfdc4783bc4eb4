package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "abc123", "abc123", 100},
		{"disjoint", "aaaa0000", "bbbb1111", 0},
		{"half", "aaaa0000", "aaaa1111", 50},
		{"one of three rounds down", "abc", "axx", 33},
		{"two of three rounds up", "abc", "abx", 67},
		{"overlap only", "abcd", "ab", 100},
		{"empty left", "", "abc", 0},
		{"empty right", "abc", "", 0},
		{"both empty", "", "", 0},
		{"seven of eight", "abcdefgh", "abcdefgx", 88},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Similarity(tt.a, tt.b))
			assert.Equal(t, tt.want, Similarity(tt.b, tt.a), "symmetric")
		})
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	hashes := []string{"", "0", "f", "00ff", "ff00", "0123456789abcdef", "fedcba9876543210", "0123"}
	for _, a := range hashes {
		for _, b := range hashes {
			s := Similarity(a, b)
			assert.GreaterOrEqual(t, s, 0)
			assert.LessOrEqual(t, s, 100)
		}
		if a != "" {
			assert.Equal(t, 100, Similarity(a, a))
		}
	}
}
