// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package locus defines the genomic interval value type used throughout
// varlens.  A Locus is always stored in 0-based half-open ("interbase")
// coordinates; 1-based inclusive coordinates exist only at parse and
// display boundaries.
package locus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrParse indicates a malformed locus string.
	ErrParse = errors.New("malformed locus string")
	// ErrInvalidCoordinate indicates out-of-range or inverted interval bounds.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrNotSingleBase is returned by Position for multi-base loci.
	ErrNotSingleBase = errors.New("locus does not span exactly one base")
)

// Locus is a genomic interval on a named contig, in interbase coordinates.
// Start <= End always holds for a validly constructed Locus.
type Locus struct {
	Contig string
	Start  int
	End    int
}

// NormalizeContig converts a contig name to the canonical naming scheme
// used as index keys everywhere in this package tree: no "chr" prefix,
// and the mitochondrial contig spelled "MT".  Read sources translate
// back to their native names via the map they build at open time.
func NormalizeContig(contig string) string {
	if len(contig) > 3 && strings.EqualFold(contig[:3], "chr") {
		contig = contig[3:]
	}
	if contig == "M" || contig == "m" {
		return "MT"
	}
	return contig
}

// FromInterbaseCoordinates returns the Locus for a 0-based half-open
// interval.  The contig name is normalized.
func FromInterbaseCoordinates(contig string, start, end int) (Locus, error) {
	if contig == "" {
		return Locus{}, errors.Wrap(ErrInvalidCoordinate, "empty contig")
	}
	if start < 0 || end < start {
		return Locus{}, errors.Wrapf(ErrInvalidCoordinate, "interbase [%d, %d)", start, end)
	}
	return Locus{Contig: NormalizeContig(contig), Start: start, End: end}, nil
}

// FromSingleInterbase is FromInterbaseCoordinates for a single base at
// interbase position start.
func FromSingleInterbase(contig string, start int) (Locus, error) {
	return FromInterbaseCoordinates(contig, start, start+1)
}

// FromInclusiveCoordinates converts a 1-based interval, inclusive on both
// ends (the VCF convention), to a Locus.
func FromInclusiveCoordinates(contig string, start, end int) (Locus, error) {
	if start < 1 || end < start {
		return Locus{}, errors.Wrapf(ErrInvalidCoordinate, "inclusive [%d, %d]", start, end)
	}
	return FromInterbaseCoordinates(contig, start-1, end)
}

// FromSingleInclusive is FromInclusiveCoordinates for one base.
func FromSingleInclusive(contig string, pos int) (Locus, error) {
	return FromInclusiveCoordinates(contig, pos, pos)
}

// Parse accepts two surface syntaxes distinguished by separator:
//
//	contig:N or contig:N-M    1-based inclusive coordinates
//	contig/N or contig/N-M    0-based half-open coordinates
func Parse(text string) (Locus, error) {
	sep := strings.IndexAny(text, ":/")
	if sep <= 0 {
		return Locus{}, errors.Wrapf(ErrParse, "%q (expected chr5:3332, chr5:3332-5555, chr5/3331 or chr5/3331-5554)", text)
	}
	contig := text[:sep]
	rangeStr := text[sep+1:]
	startStr, endStr := rangeStr, ""
	if dash := strings.IndexByte(rangeStr, '-'); dash != -1 {
		startStr, endStr = rangeStr[:dash], rangeStr[dash+1:]
	}
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return Locus{}, errors.Wrapf(ErrParse, "%q: bad position %q", text, startStr)
	}
	inclusive := text[sep] == ':'
	var end int
	if endStr == "" {
		if inclusive {
			end = start
		} else {
			end = start + 1
		}
	} else {
		if end, err = strconv.Atoi(endStr); err != nil {
			return Locus{}, errors.Wrapf(ErrParse, "%q: bad position %q", text, endStr)
		}
	}
	if inclusive {
		return FromInclusiveCoordinates(contig, start, end)
	}
	return FromInterbaseCoordinates(contig, start, end)
}

// InclusiveStart returns the 1-based position of the first base.
func (l Locus) InclusiveStart() int { return l.Start + 1 }

// InclusiveEnd returns the 1-based position of the last base.
func (l Locus) InclusiveEnd() int { return l.End }

// Positions returns the covered 0-based positions, in order.
func (l Locus) Positions() []int {
	positions := make([]int, 0, l.End-l.Start)
	for p := l.Start; p < l.End; p++ {
		positions = append(positions, p)
	}
	return positions
}

// Position returns the single covered base, or ErrNotSingleBase if the
// locus does not span exactly one base.
func (l Locus) Position() (int, error) {
	if l.End != l.Start+1 {
		return 0, errors.Wrap(ErrNotSingleBase, l.String())
	}
	return l.Start, nil
}

// Length returns the number of covered bases.
func (l Locus) Length() int { return l.End - l.Start }

// Overlaps reports whether l and other share at least one base.
func (l Locus) Overlaps(other Locus) bool {
	return l.Contig == other.Contig && l.Start < other.End && other.Start < l.End
}

// String renders the locus in the interbase surface syntax.
func (l Locus) String() string {
	return fmt.Sprintf("%s/%d-%d", l.Contig, l.Start, l.End)
}
