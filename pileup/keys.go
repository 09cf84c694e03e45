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

// ReadKey identifies the physical sequencing read an alignment record
// came from.  A read may have several alignments (chimeric, secondary),
// all sharing one ReadKey.
type ReadKey struct {
	Name      string
	Duplicate bool
	Read1     bool
	Read2     bool
}

// AlignmentKey identifies one alignment placement of a read.  Alignment
// records fetched from separate region queries do not share pointers, so
// deduplication must compare by value on this key, never by identity.
type AlignmentKey struct {
	ReadKey
	QueryAlignmentStart int
	QueryAlignmentEnd   int
}

// NewReadKey extracts rec's read identity.
func NewReadKey(rec *sam.Record) ReadKey {
	return ReadKey{
		Name:      rec.Name,
		Duplicate: rec.Flags&sam.Duplicate != 0,
		Read1:     rec.Flags&sam.Read1 != 0,
		Read2:     rec.Flags&sam.Read2 != 0,
	}
}

// NewAlignmentKey extracts rec's alignment identity.
func NewAlignmentKey(rec *sam.Record) AlignmentKey {
	start, end := queryAlignmentBounds(rec)
	return AlignmentKey{
		ReadKey:             NewReadKey(rec),
		QueryAlignmentStart: start,
		QueryAlignmentEnd:   end,
	}
}

// queryAlignmentBounds returns the half-open query-coordinate span of
// the aligned portion of the read, excluding soft-clipped bases.
func queryAlignmentBounds(rec *sam.Record) (start, end int) {
	end = rec.Seq.Length
	for _, co := range rec.Cigar {
		if co.Type() == sam.CigarSoftClipped {
			start += co.Len()
		} else if co.Type() != sam.CigarHardClipped {
			break
		}
	}
	for i := len(rec.Cigar) - 1; i >= 0; i-- {
		co := rec.Cigar[i]
		if co.Type() == sam.CigarSoftClipped {
			end -= co.Len()
		} else if co.Type() != sam.CigarHardClipped {
			break
		}
	}
	if end < start {
		end = start
	}
	return start, end
}
