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
package support

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/varlens/variant"
	"github.com/pkg/errors"
)

// ErrMissingEvidence indicates a variant whose locus has no row in the
// support table for some source.
var ErrMissingEvidence = errors.New("no allele support evidence for variant")

// ErrDuplicateVariant indicates a variant list repeating a
// (contig, start, end, ref, alt) join key.
var ErrDuplicateVariant = errors.New("duplicate variant in join")

type tableKey struct {
	Source         string
	Contig         string
	InterbaseStart int
	InterbaseEnd   int
}

// SupportTable indexes allele-support rows by (source, locus) for
// joining against variant calls.
type SupportTable struct {
	sources []string
	counts  map[tableKey]map[string]int
}

// NewSupportTable builds a table from rows, typically drained from an
// AlleleSupportRows iterator.  Counts for a repeated
// (source, locus, allele) accumulate.
func NewSupportTable(rows []Row) *SupportTable {
	t := &SupportTable{counts: make(map[tableKey]map[string]int)}
	seenSource := make(map[string]bool)
	for _, row := range rows {
		if !seenSource[row.Source] {
			seenSource[row.Source] = true
			t.sources = append(t.sources, row.Source)
		}
		key := tableKey{row.Source, row.Contig, row.InterbaseStart, row.InterbaseEnd}
		m := t.counts[key]
		if m == nil {
			m = make(map[string]int)
			t.counts[key] = m
		}
		m[row.Allele] += row.Count
	}
	return t
}

// Sources returns the source names in first-appearance order.
func (t *SupportTable) Sources() []string { return t.sources }

// Measurement is the evidence one source shows for one variant.
type Measurement struct {
	Variant variant.Variant
	Source  string

	NumRef     int
	NumAlt     int
	NumOther   int
	TotalDepth int
	// AltFraction is NumAlt over depth; AnyAltFraction counts every
	// non-reference allele.  Both use max(1, depth) so a zero-coverage
	// locus reports fraction 0 rather than dividing by zero.
	AltFraction    float64
	AnyAltFraction float64
}

// VariantSupport joins variants against the table, one measurement per
// (variant, source) pair, variants in given order and sources in table
// order.  A variant whose locus is absent from the table is an error
// (ErrMissingEvidence) unless lenient is set, in which case it is
// logged and reported with zero depth.  A repeated variant is always an
// error.
func VariantSupport(variants []variant.Variant, table *SupportTable, lenient bool) ([]Measurement, error) {
	seen := make(map[variant.Variant]bool, len(variants))
	measurements := make([]Measurement, 0, len(variants)*len(table.sources))
	for _, v := range variants {
		if seen[v] {
			return nil, errors.Wrapf(ErrDuplicateVariant, "%s/%d-%d %s>%s",
				v.Contig, v.InterbaseStart, v.InterbaseEnd, v.Ref, v.Alt)
		}
		seen[v] = true
		for _, source := range table.sources {
			key := tableKey{source, v.Contig, v.InterbaseStart, v.InterbaseEnd}
			counts, ok := table.counts[key]
			if !ok {
				if !lenient {
					return nil, errors.Wrapf(ErrMissingEvidence, "%s at %s/%d-%d",
						source, v.Contig, v.InterbaseStart, v.InterbaseEnd)
				}
				log.Printf("no evidence for %s/%d-%d in %s; reporting zero depth",
					v.Contig, v.InterbaseStart, v.InterbaseEnd, source)
				counts = nil
			}
			measurements = append(measurements, measure(v, source, counts))
		}
	}
	return measurements, nil
}

func measure(v variant.Variant, source string, counts map[string]int) Measurement {
	m := Measurement{Variant: v, Source: source}
	for allele, count := range counts {
		m.TotalDepth += count
		switch allele {
		case v.Ref:
			m.NumRef += count
		case v.Alt:
			m.NumAlt += count
		default:
			m.NumOther += count
		}
	}
	depth := m.TotalDepth
	if depth < 1 {
		depth = 1
	}
	m.AltFraction = float64(m.NumAlt) / float64(depth)
	m.AnyAltFraction = float64(m.NumAlt+m.NumOther) / float64(depth)
	return m
}
