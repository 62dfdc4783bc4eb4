package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSum_RawKnownVectors(t *testing.T) {
	f := New(ModeRaw)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", f.Sum(nil))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", f.Sum([]byte{}))
	assert.Equal(t, sha("abc"), f.Sum([]byte("abc")))
}

func TestSum_Deterministic(t *testing.T) {
	for _, mode := range []Mode{ModeRaw, ModeLegacyText} {
		f := New(mode)
		data := []byte("the same bytes every time")
		first := f.Sum(data)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, f.Sum(data), "mode %s", mode)
		}
		assert.Equal(t, first, New(mode).Sum(append([]byte(nil), data...)))
	}
}

func TestSum_FixedLengthLowercaseHex(t *testing.T) {
	inputs := [][]byte{nil, {0}, []byte("x"), bytes.Repeat([]byte{0xff}, 4096)}
	for _, mode := range []Mode{ModeRaw, ModeLegacyText} {
		for _, in := range inputs {
			got := New(mode).Sum(in)
			require.Len(t, got, HashLength)
			assert.Equal(t, strings.ToLower(got), got)
			_, err := hex.DecodeString(got)
			assert.NoError(t, err)
		}
	}
}

func TestSum_Sensitivity(t *testing.T) {
	vectors := [][]byte{
		nil,
		{0},
		{0, 0},
		{1},
		{1, 0},
		{0, 1},
		[]byte("a"),
		[]byte("b"),
		[]byte("ab"),
		[]byte("ba"),
		[]byte("hello world"),
		[]byte("hello world\n"),
		[]byte("Hello world"),
		{12, 3},
		{1, 23},
		{123},
	}
	for _, mode := range []Mode{ModeRaw, ModeLegacyText} {
		seen := make(map[string]int, len(vectors))
		f := New(mode)
		for i, v := range vectors {
			h := f.Sum(v)
			if j, ok := seen[h]; ok {
				t.Fatalf("mode %s: collision between vector %d and %d", mode, i, j)
			}
			seen[h] = i
		}
	}
}

func TestSum_LegacyTextEncoding(t *testing.T) {
	f := New(ModeLegacyText)
	assert.Equal(t, sha("104,105"), f.Sum([]byte("hi")))
	assert.Equal(t, sha("0,255,10"), f.Sum([]byte{0, 255, 10}))
	assert.Equal(t, sha(""), f.Sum(nil))
	assert.NotEqual(t, New(ModeRaw).Sum([]byte("hi")), f.Sum([]byte("hi")))
}

func TestSumReader_MatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 10000)
	for _, mode := range []Mode{ModeRaw, ModeLegacyText} {
		f := New(mode)
		// iotest-style small reads exercise the comma handling across chunk boundaries.
		got, n, err := f.SumReader(io.LimitReader(&slowReader{data: data}, int64(len(data))))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, f.Sum(data), got, "mode %s", mode)
	}
}

func TestWriter_MatchesSum(t *testing.T) {
	data := []byte("streamed through a tee reader")
	for _, mode := range []Mode{ModeRaw, ModeLegacyText} {
		f := New(mode)
		w := f.Writer()
		_, err := io.Copy(io.Discard, io.TeeReader(&slowReader{data: data}, w))
		require.NoError(t, err)
		assert.Equal(t, f.Sum(data), w.Sum())
		assert.Equal(t, int64(len(data)), w.Len())
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRaw, m)

	m, err = ParseMode(" Legacy-Text ")
	require.NoError(t, err)
	assert.Equal(t, ModeLegacyText, m)

	_, err = ParseMode("md5")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

// slowReader returns at most 7 bytes per Read.
type slowReader struct {
	data []byte
	off  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := 7
	if n > len(p) {
		n = len(p)
	}
	if rem := len(r.data) - r.off; n > rem {
		n = rem
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}
