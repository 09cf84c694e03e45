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

// Package variant loads genomic variants from VCF files and tracks
// per-variant metadata across merged input collections.
package variant

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
)

// Variant is one substitution, insertion or deletion on a genome, in
// interbase coordinates.  Ref is the replaced reference sequence
// (possibly empty for a pure insertion), Alt its replacement.  Variants
// compare by value; two collections loaded from different files may
// contain the same Variant.
type Variant struct {
	Genome         string
	Contig         string
	InterbaseStart int
	InterbaseEnd   int
	Ref            string
	Alt            string
}

// Locus returns the reference window the variant replaces.
func (v Variant) Locus() locus.Locus {
	return locus.Locus{Contig: v.Contig, Start: v.InterbaseStart, End: v.InterbaseEnd}
}

// Collection is an ordered list of variants plus the per-variant
// bookkeeping accumulated while loading: free-form metadata and the
// names of the input files each variant came from.
type Collection struct {
	Variants []Variant
	Metadata map[Variant]map[string]string
	Sources  map[Variant][]string
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{
		Metadata: make(map[Variant]map[string]string),
		Sources:  make(map[Variant][]string),
	}
}

func (c *Collection) add(v Variant, source string, metadata map[string]string) {
	if _, ok := c.Sources[v]; !ok {
		c.Variants = append(c.Variants, v)
	}
	c.Sources[v] = append(c.Sources[v], source)
	if len(metadata) > 0 {
		m := c.Metadata[v]
		if m == nil {
			m = make(map[string]string, len(metadata))
			c.Metadata[v] = m
		}
		for k, val := range metadata {
			m[k] = val
		}
	}
}

// Loci returns the set of reference windows covered by the collection's
// variants.
func (c *Collection) Loci() *loci.Set {
	ls := make([]locus.Locus, 0, len(c.Variants))
	for _, v := range c.Variants {
		ls = append(ls, v.Locus())
	}
	return loci.NewSet(ls...)
}

// VariantLoci returns each variant's exact reference window,
// deduplicated and sorted by contig then position.  Unlike Loci it
// never merges adjacent or overlapping windows, so the returned loci
// key evidence rows back to the variants that requested them.
func (c *Collection) VariantLoci() []locus.Locus {
	seen := make(map[locus.Locus]bool, len(c.Variants))
	ls := make([]locus.Locus, 0, len(c.Variants))
	for _, v := range c.Variants {
		l := v.Locus()
		if seen[l] {
			continue
		}
		seen[l] = true
		ls = append(ls, l)
	}
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Contig != ls[j].Contig {
			return ls[i].Contig < ls[j].Contig
		}
		if ls[i].Start != ls[j].Start {
			return ls[i].Start < ls[j].Start
		}
		return ls[i].End < ls[j].End
	})
	return ls
}

// Filter returns a new collection holding only variants accepted by
// pred, carrying their metadata and sources over.
func (c *Collection) Filter(pred func(Variant) bool) *Collection {
	out := NewCollection()
	for _, v := range c.Variants {
		if !pred(v) {
			continue
		}
		out.Variants = append(out.Variants, v)
		if m, ok := c.Metadata[v]; ok {
			out.Metadata[v] = m
		}
		if s, ok := c.Sources[v]; ok {
			out.Sources[v] = s
		}
	}
	return out
}

// Sort orders the collection by (contig, start, end, ref, alt).
func (c *Collection) Sort() {
	sort.Slice(c.Variants, func(i, j int) bool {
		a, b := c.Variants[i], c.Variants[j]
		if a.Contig != b.Contig {
			return a.Contig < b.Contig
		}
		if a.InterbaseStart != b.InterbaseStart {
			return a.InterbaseStart < b.InterbaseStart
		}
		if a.InterbaseEnd != b.InterbaseEnd {
			return a.InterbaseEnd < b.InterbaseEnd
		}
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		return a.Alt < b.Alt
	})
}

// MergeCollections combines collections loaded from several inputs.
// A variant present in more than one input appears once, with the
// union of its metadata and the concatenation of its sources.  All
// inputs must agree on the genome build.
func MergeCollections(collections ...*Collection) (*Collection, error) {
	merged := NewCollection()
	genome := ""
	for _, c := range collections {
		for _, v := range c.Variants {
			if v.Genome != "" {
				if genome == "" {
					genome = v.Genome
				} else if v.Genome != genome {
					return nil, errors.E("mixed genomes in variant inputs:", genome, "vs", v.Genome)
				}
			}
			var sources []string
			if s, ok := c.Sources[v]; ok {
				sources = s
			} else {
				sources = []string{""}
			}
			for _, src := range sources {
				merged.add(v, src, c.Metadata[v])
			}
		}
	}
	merged.Sort()
	return merged, nil
}
