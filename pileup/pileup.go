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

// Package pileup groups the alignments overlapping each requested locus
// by the allele they carry there, and exposes distinct-read support
// counts per allele group.
package pileup

import (
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
)

// Fetcher supplies the alignments overlapping one locus.  It is
// implemented by readsource.Source; tests substitute in-memory fakes.
type Fetcher interface {
	FetchOverlapping(l locus.Locus) ([]*sam.Record, error)
}

// Element is one alignment's contribution to one locus's pileup.
type Element struct {
	Locus  locus.Locus
	Allele string
	Record *sam.Record
}

// Group is the set of elements supporting one allele at one locus.
type Group struct {
	elements []Element
}

// Elements returns the group's contributing elements.
func (g *Group) Elements() []Element { return g.elements }

// Filter returns a new group holding only elements accepted by pred.
func (g *Group) Filter(pred func(Element) bool) *Group {
	filtered := &Group{}
	for _, e := range g.elements {
		if pred(e) {
			filtered.elements = append(filtered.elements, e)
		}
	}
	return filtered
}

// NumReads returns the number of distinct reads contributing to the
// group.  Chimeric and secondary alignments share a read key, so they
// never inflate the count.
func (g *Group) NumReads() int {
	seen := make(map[ReadKey]bool, len(g.elements))
	for _, e := range g.elements {
		seen[NewReadKey(e.Record)] = true
	}
	return len(seen)
}

// Pileup maps each allele observed at one locus to its support group.
// Within one pileup an alignment appears under at most one allele.
type Pileup struct {
	Locus  locus.Locus
	groups map[string]*Group
}

// Groups returns the pileup's allele buckets.  The returned map is the
// pileup's own; callers must not mutate it.
func (p *Pileup) Groups() map[string]*Group { return p.groups }

func (p *Pileup) add(e Element) {
	g := p.groups[e.Allele]
	if g == nil {
		g = &Group{}
		p.groups[e.Allele] = g
	}
	g.elements = append(g.elements, e)
}

// Filter returns a new pileup whose groups hold only elements accepted
// by pred.  Groups left empty are dropped.
func (p *Pileup) Filter(pred func(Element) bool) *Pileup {
	filtered := &Pileup{Locus: p.Locus, groups: make(map[string]*Group)}
	for allele, g := range p.groups {
		fg := g.Filter(pred)
		if len(fg.elements) > 0 {
			filtered.groups[allele] = fg
		}
	}
	return filtered
}

// At buckets prefetched alignments by the allele each carries at l.
// Alignments not spanning the whole window contribute nothing.
func At(l locus.Locus, recs []*sam.Record) *Pileup {
	p := &Pileup{Locus: l, groups: make(map[string]*Group)}
	for _, rec := range recs {
		allele, ok := alleleAt(rec, l.Start, l.End)
		if !ok {
			continue
		}
		p.add(Element{Locus: l, Allele: allele, Record: rec})
	}
	return p
}

// Collection holds the pileups for a batch of loci.
type Collection struct {
	pileups map[locus.Locus]*Pileup
	order   []locus.Locus
}

// FromFetcher fetches the alignments overlapping every locus in set and
// buckets each by the allele it carries at that locus.  Loci on contigs
// the fetcher does not know simply produce empty pileups (the fetcher
// logs and returns no records for them).
func FromFetcher(f Fetcher, set *loci.Set) (*Collection, error) {
	c := &Collection{
		pileups: make(map[locus.Locus]*Pileup),
		order:   set.Loci(),
	}
	for _, l := range c.order {
		recs, err := f.FetchOverlapping(l)
		if err != nil {
			return nil, err
		}
		c.pileups[l] = At(l, recs)
	}
	return c, nil
}

// Loci returns the collection's loci in sorted order.
func (c *Collection) Loci() []locus.Locus { return c.order }

// GroupByAllele returns the allele buckets for l.  The returned map is
// the collection's own; callers must not mutate it.
func (c *Collection) GroupByAllele(l locus.Locus) map[string]*Group {
	p := c.pileups[l]
	if p == nil {
		return nil
	}
	return p.groups
}

// AlleleSummary returns a plain allele -> distinct-read-count mapping
// for l.  A locus with no overlapping reads yields an empty map.
func (c *Collection) AlleleSummary(l locus.Locus) map[string]int {
	groups := c.GroupByAllele(l)
	summary := make(map[string]int, len(groups))
	for allele, g := range groups {
		summary[allele] = g.NumReads()
	}
	return summary
}

// FilterElements re-filters every pileup in place through pred.  Read
// sources use this to keep filtered-out reads from contributing counts.
func (c *Collection) FilterElements(pred func(Element) bool) {
	for l, p := range c.pileups {
		c.pileups[l] = p.Filter(pred)
	}
}
