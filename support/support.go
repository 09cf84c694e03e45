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

// Package support tabulates per-allele read support at a set of loci
// across one or more read sources, and joins variant calls against the
// resulting evidence.
package support

import (
	"sort"
	"strings"

	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/pileup"
	"github.com/grailbio/varlens/readsource"
)

// Row is one line of the allele-support table: how many distinct reads
// of one source carry one allele at one locus.  GroupCounts holds the
// extra per-CountGroup tallies, in the group order given to
// AlleleSupportRows.
type Row struct {
	Source         string
	Contig         string
	InterbaseStart int
	InterbaseEnd   int
	Allele         string
	Count          int
	GroupCounts    []int
}

// CountGroup adds a column counting only the elements its predicate
// accepts.  Commands build these from labeled filter expressions like
// "high_mapq:mapping_quality >= 50".
type CountGroup struct {
	Name string
	Pred func(pileup.Element) bool
}

// Columns returns the table header for rows produced with groups.
func Columns(groups []CountGroup) []string {
	cols := []string{"source", "contig", "interbase_start", "interbase_end", "allele", "count"}
	for _, g := range groups {
		cols = append(cols, g.Name)
	}
	return cols
}

// RowIter streams allele-support rows source by source, one locus at a
// time.  A source's reader and positional index are opened once when
// the iterator first reaches it and held until its last locus, so a
// large locus list never materializes more than one locus's evidence.
type RowIter struct {
	loci    []locus.Locus
	sources []*readsource.Source
	groups  []CountGroup

	srcIdx  int
	lociIdx int
	fetcher *readsource.Fetcher
	pending []Row
	row     Row
	err     error
}

// AlleleSupportRows tabulates the allele support each source shows at
// each locus in ls, in the given locus order.  Rows come out in source
// order, then locus order, then allele lexicographic order.  The loci
// are used as given: adjacent or overlapping windows stay distinct, so
// every queried window gets rows keyed by its own exact bounds.  A
// locus with no overlapping reads from a source still yields one row,
// with the placeholder allele "N" repeated to the locus width and
// count zero.  A locus on a contig the source does not carry yields no
// rows at all for that source.
func AlleleSupportRows(ls []locus.Locus, sources []*readsource.Source, groups []CountGroup) *RowIter {
	return &RowIter{loci: ls, sources: sources, groups: groups}
}

// Scan advances to the next row, returning false at the end or on
// error.
func (it *RowIter) Scan() bool {
	if it.err != nil {
		return false
	}
	for len(it.pending) == 0 {
		if it.fetcher == nil {
			if it.srcIdx >= len(it.sources) {
				return false
			}
			f, err := it.sources[it.srcIdx].OpenFetcher()
			if err != nil {
				it.err = err
				return false
			}
			it.fetcher = f
			it.lociIdx = 0
		}
		if it.lociIdx >= len(it.loci) {
			err := it.fetcher.Close()
			it.fetcher = nil
			it.srcIdx++
			if err != nil {
				it.err = err
				return false
			}
			continue
		}
		l := it.loci[it.lociIdx]
		it.lociIdx++
		if err := it.tabulate(it.sources[it.srcIdx], l); err != nil {
			it.fetcher.Close() // nolint: errcheck
			it.fetcher = nil
			it.err = err
			return false
		}
	}
	it.row = it.pending[0]
	it.pending = it.pending[1:]
	return true
}

// Row returns the current row.  Valid only after Scan returns true.
func (it *RowIter) Row() Row { return it.row }

// Err returns the error that stopped iteration, if any.
func (it *RowIter) Err() error { return it.err }

func (it *RowIter) tabulate(src *readsource.Source, l locus.Locus) error {
	l.Contig = locus.NormalizeContig(l.Contig)
	recs, err := it.fetcher.FetchOverlapping(l)
	if err != nil {
		return err
	}
	if !src.HasContig(l.Contig) {
		// Unknown contig: the fetch warned and returned nothing.  No
		// rows, not even the zero-coverage placeholder; the source has
		// nothing to say about this locus.
		return nil
	}
	p := pileup.At(l, recs).Filter(func(e pileup.Element) bool {
		return src.Accepts(e.Record)
	})
	it.pending = it.locusRows(src.Name, l, p.Groups())
	return nil
}

func (it *RowIter) locusRows(source string, l locus.Locus, byAllele map[string]*pileup.Group) []Row {
	if len(byAllele) == 0 {
		row := Row{
			Source:         source,
			Contig:         l.Contig,
			InterbaseStart: l.Start,
			InterbaseEnd:   l.End,
			Allele:         strings.Repeat("N", l.Length()),
			Count:          0,
			GroupCounts:    make([]int, len(it.groups)),
		}
		return []Row{row}
	}
	alleles := make([]string, 0, len(byAllele))
	for allele := range byAllele {
		alleles = append(alleles, allele)
	}
	sort.Strings(alleles)
	rows := make([]Row, 0, len(alleles))
	for _, allele := range alleles {
		g := byAllele[allele]
		row := Row{
			Source:         source,
			Contig:         l.Contig,
			InterbaseStart: l.Start,
			InterbaseEnd:   l.End,
			Allele:         allele,
			Count:          g.NumReads(),
		}
		for _, cg := range it.groups {
			row.GroupCounts = append(row.GroupCounts, g.Filter(cg.Pred).NumReads())
		}
		rows = append(rows, row)
	}
	return rows
}
