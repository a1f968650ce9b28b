// Package alignment reads the header of PHYLIP-style alignment files.
//
// Only the dimensions are extracted: the first line carrying two integers
// (sequence count, then alignment length) is taken as the header.
package alignment

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// Suffix identifies alignment-typed input files.
const Suffix = ".phy"

var headerRE = regexp.MustCompile(`(\d+)\s+(\d+)`)

// Info describes one alignment file.
type Info struct {
	SequenceCount   int    `json:"n_seq"`
	AlignmentLength int    `json:"aln_len"`
	Path            string `json:"path"`
}

// IsAlignment reports whether name carries the alignment suffix.
func IsAlignment(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

// maxLineSize bounds a single line; interleaved alignments keep whole
// sequences on one line.
const maxLineSize = 16 * 1024 * 1024

// Read scans path for its dimension line.
//
// Returns a NotFound error when path does not exist and a MalformedInput
// error when no line matches before end of file or a line exceeds 16 MiB.
func Read(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, apperrors.NotFound("alignment file", path)
		}
		return Info{}, fmt.Errorf("open alignment file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		m := headerRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		nseq, err := strconv.Atoi(m[1])
		if err != nil {
			return Info{}, apperrors.MalformedInput("alignment file", path, "sequence count out of range")
		}
		alnLen, err := strconv.Atoi(m[2])
		if err != nil {
			return Info{}, apperrors.MalformedInput("alignment file", path, "alignment length out of range")
		}
		return Info{SequenceCount: nseq, AlignmentLength: alnLen, Path: path}, nil
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Info{}, apperrors.MalformedInput("alignment file", path, "line exceeds 16 MiB")
		}
		return Info{}, fmt.Errorf("read alignment file: %w", err)
	}

	return Info{}, apperrors.MalformedInput("alignment file", path, "no dimension line found")
}
