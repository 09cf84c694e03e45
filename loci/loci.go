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

// Package loci implements a per-contig interval index over genomic loci.
//
// Intervals are merged eagerly: overlapping or touching intervals on one
// contig collapse into a single stored interval at construction time, so
// the stored set is always disjoint and sorted.  Callers iterating a Set
// for evidence collection therefore never see the same base twice.
package loci

import (
	"sort"

	"github.com/biogo/store/interval"
	"github.com/grailbio/varlens/locus"
)

// entry is the IntTree payload: one stored half-open interval.
type entry struct {
	id         uintptr
	start, end int
}

func (e entry) Overlap(b interval.IntRange) bool { return e.end > b.Start && e.start < b.End }
func (e entry) ID() uintptr                      { return e.id }
func (e entry) Range() interval.IntRange         { return interval.IntRange{Start: e.start, End: e.end} }

// Set is an immutable collection of genomic intervals indexed by contig.
// Build one with NewSet; derive others with Union.
type Set struct {
	contigs map[string]*interval.IntTree
	nextID  uintptr
}

// NewSet builds a Set from the given loci, merging overlapping and
// touching intervals per contig.  Empty intervals are dropped: they
// cover no bases and interval trees cannot usefully represent them.
func NewSet(loci ...locus.Locus) *Set {
	byContig := make(map[string][]locus.Locus)
	for _, l := range loci {
		if l.Start == l.End {
			continue
		}
		c := locus.NormalizeContig(l.Contig)
		byContig[c] = append(byContig[c], l)
	}
	s := &Set{contigs: make(map[string]*interval.IntTree, len(byContig))}
	for contig, ivs := range byContig {
		s.contigs[contig] = s.buildTree(mergeIntervals(ivs))
	}
	return s
}

// mergeIntervals sorts by start and coalesces overlapping or touching
// intervals.  Merging twice is a no-op: the output is already disjoint.
func mergeIntervals(ivs []locus.Locus) []locus.Locus {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Start != ivs[j].Start {
			return ivs[i].Start < ivs[j].Start
		}
		return ivs[i].End < ivs[j].End
	})
	merged := ivs[:0]
	for _, iv := range ivs {
		if n := len(merged); n > 0 && iv.Start <= merged[n-1].End {
			if iv.End > merged[n-1].End {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

func (s *Set) buildTree(ivs []locus.Locus) *interval.IntTree {
	tree := &interval.IntTree{}
	for _, iv := range ivs {
		s.nextID++
		// Insert order is sorted, so fast insertion plus one AdjustRanges
		// call is safe.
		_ = tree.Insert(entry{id: s.nextID, start: iv.Start, end: iv.End}, true)
	}
	tree.AdjustRanges()
	return tree
}

// Union returns a new Set covering every base covered by s or other.
// The result is re-merged to preserve the disjoint-interval invariant.
func (s *Set) Union(other *Set) *Set {
	return NewSet(append(s.Loci(), other.Loci()...)...)
}

// Intersects reports whether any stored interval on l's contig overlaps
// [l.Start, l.End).
func (s *Set) Intersects(l locus.Locus) bool {
	tree := s.contigs[locus.NormalizeContig(l.Contig)]
	if tree == nil {
		return false
	}
	return len(tree.Get(entry{start: l.Start, end: l.End})) > 0
}

// Loci returns the stored intervals ordered by contig name
// (lexicographic), then by start position.
func (s *Set) Loci() []locus.Locus {
	contigs := make([]string, 0, len(s.contigs))
	for contig := range s.contigs {
		contigs = append(contigs, contig)
	}
	sort.Strings(contigs)
	var loci []locus.Locus
	for _, contig := range contigs {
		// IntTree.Do visits intervals in ascending start order.
		s.contigs[contig].Do(func(e interval.IntInterface) bool {
			r := e.Range()
			loci = append(loci, locus.Locus{Contig: contig, Start: r.Start, End: r.End})
			return false
		})
	}
	return loci
}

// Len returns the number of stored intervals across all contigs.
func (s *Set) Len() int {
	n := 0
	for _, tree := range s.contigs {
		n += tree.Len()
	}
	return n
}
