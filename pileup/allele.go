// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import "github.com/grailbio/hts/sam"

// alleleAt returns the allele rec contributes at the reference window
// [start, end), derived from the CIGAR reference-to-query mapping:
//
//   - matched/mismatched query bases inside the window are included;
//   - insertions inside the window, or anchored on its final base,
//     contribute their bases;
//   - a window fully deleted (or skipped) in the read yields "".
//
// The second return is false when the alignment does not span the whole
// window on the reference, or the record carries no usable sequence; such
// reads contribute no evidence.
func alleleAt(rec *sam.Record, start, end int) (string, bool) {
	if rec.Pos > start || rec.End() < end {
		return "", false
	}
	seq := rec.Seq.Expand()
	refPos := rec.Pos
	qPos := 0
	var allele []byte
	for i, co := range rec.Cigar {
		t := co.Type()
		n := co.Len()
		con := t.Consumes()
		switch {
		case con.Query == 1 && con.Reference == 1:
			s, e := refPos, refPos+n
			if s < start {
				s = start
			}
			if e > end {
				e = end
			}
			if s < e {
				lo, hi := qPos+(s-refPos), qPos+(e-refPos)
				if hi > len(seq) {
					return "", false
				}
				allele = append(allele, seq[lo:hi]...)
			}
			refPos += n
			qPos += n
		case con.Reference == 1:
			// Deletion or reference skip: contributes no query bases.
			refPos += n
		case con.Query == 1:
			if t == sam.CigarInsertion && refPos > start && refPos <= end {
				if qPos+n > len(seq) {
					return "", false
				}
				allele = append(allele, seq[qPos:qPos+n]...)
			}
			qPos += n
		}
		if refPos >= end {
			// An insertion anchored on the window's final base still
			// contributes; nothing past it can.
			if refPos == end && i+1 < len(rec.Cigar) && rec.Cigar[i+1].Type() == sam.CigarInsertion {
				continue
			}
			break
		}
	}
	return string(allele), true
}
