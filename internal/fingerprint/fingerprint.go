// Package fingerprint computes the content hash used to compare documents.
// Hashes are SHA-256 digests rendered as 64 lowercase hex characters.
package fingerprint

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
)

// Mode selects what the digest is computed over.
type Mode string

const (
	// ModeRaw hashes the bytes as given.
	ModeRaw Mode = "raw"
	// ModeLegacyText hashes the decimal rendering of each byte joined by
	// commas ("104,105" for "hi"). Stored hashes produced by the earlier
	// uploader use this form; switching modes invalidates them.
	ModeLegacyText Mode = "legacy-text"
)

// HashLength is the length of every hash produced by Sum.
const HashLength = sha256.Size * 2

// ErrUnknownMode is returned by ParseMode for unsupported names.
var ErrUnknownMode = errors.New("unknown fingerprint mode")

// ParseMode converts a config value into a Mode. An empty value means raw.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRaw:
		return ModeRaw, nil
	case ModeLegacyText:
		return ModeLegacyText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Fingerprinter is safe for concurrent use; it holds no state besides mode.
type Fingerprinter struct {
	mode Mode
}

// New returns a Fingerprinter for mode. Unknown modes fall back to raw.
func New(mode Mode) Fingerprinter {
	if mode != ModeLegacyText {
		mode = ModeRaw
	}
	return Fingerprinter{mode: mode}
}

// Mode reports the configured mode.
func (f Fingerprinter) Mode() Mode {
	if f.mode == "" {
		return ModeRaw
	}
	return f.mode
}

// Sum hashes data. Empty input is valid and yields the digest of nothing.
func (f Fingerprinter) Sum(data []byte) string {
	h := sha256.New()
	if f.Mode() == ModeLegacyText {
		w := bufio.NewWriter(h)
		writeDecimal(w, data, true)
		_ = w.Flush()
	} else {
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SumReader streams r through the hash so large objects never sit in memory.
// It returns the hash and the number of bytes consumed.
func (f Fingerprinter) SumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	var (
		n   int64
		err error
	)
	if f.Mode() == ModeLegacyText {
		n, err = copyLegacy(h, r)
	} else {
		n, err = io.Copy(h, r)
	}
	if err != nil {
		return "", n, fmt.Errorf("read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Writer returns an io.Writer that hashes everything written to it, for use
// with io.TeeReader while an upload streams to disk.
func (f Fingerprinter) Writer() *Writer {
	return &Writer{mode: f.Mode(), h: sha256.New(), first: true}
}

// Writer accumulates a fingerprint incrementally.
type Writer struct {
	mode  Mode
	h     hash.Hash
	first bool
	n     int64
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.mode == ModeLegacyText {
		bw := bufio.NewWriter(w.h)
		writeDecimal(bw, p, w.first)
		if err := bw.Flush(); err != nil {
			return 0, err
		}
		if len(p) > 0 {
			w.first = false
		}
	} else {
		w.h.Write(p)
	}
	w.n += int64(len(p))
	return len(p), nil
}

// Sum returns the hash of everything written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Len returns the number of bytes written.
func (w *Writer) Len() int64 {
	return w.n
}

func copyLegacy(h hash.Hash, r io.Reader) (int64, error) {
	lw := &Writer{mode: ModeLegacyText, h: h, first: true}
	return io.Copy(lw, r)
}

// writeDecimal renders p as comma-separated decimals. first reports whether
// p starts the overall sequence (no leading comma).
func writeDecimal(w *bufio.Writer, p []byte, first bool) {
	var scratch [3]byte
	for i, b := range p {
		if i > 0 || !first {
			w.WriteByte(',')
		}
		w.Write(strconv.AppendUint(scratch[:0], uint64(b), 10))
	}
}
