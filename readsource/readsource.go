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

// Package readsource wraps one BAM or SAM file as a queryable source of
// alignment records: indexed region fetches, alignment deduplication
// across overlapping regions, and read-level filter predicates.
package readsource

import (
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/pileup"
	"v.io/x/lib/vlog"
)

// Predicate is a side-effect-free read filter.  A Source applies the
// conjunction of all of its predicates.
type Predicate func(*sam.Record) bool

// Source wraps one alignment file.  It owns the contig-name
// normalization map built from the file's reference list at open time:
// read files frequently use a different chromosome-naming convention
// ("chr22" vs "22") than the loci querying them, and lookups through a
// non-normalized name silently return nothing.
type Source struct {
	Name string
	Path string

	filters []Predicate
	isSAM   bool
	header  *sam.Header
	// normalized contig name -> native reference name
	nameMap map[string]string
	// native reference name -> header reference
	refByNative map[string]*sam.Reference
}

// Open opens the alignment file at path.  Files ending in ".sam" are
// read by linear scan only; everything else is treated as BAM.  The
// header is read eagerly so that an unusable file fails here rather
// than at first query.
func Open(path, name string, filters ...Predicate) (*Source, error) {
	if name == "" {
		name = path
	}
	s := &Source{
		Name:    name,
		Path:    path,
		filters: filters,
		isSAM:   strings.HasSuffix(path, ".sam"),
	}
	header, err := s.readHeader()
	if err != nil {
		return nil, errors.E(err, "opening read source", path)
	}
	s.header = header
	s.nameMap = make(map[string]string, 2*len(header.Refs()))
	s.refByNative = make(map[string]*sam.Reference, len(header.Refs()))
	for _, ref := range header.Refs() {
		native := ref.Name()
		s.nameMap[locus.NormalizeContig(native)] = native
		s.nameMap[native] = native
		s.refByNative[native] = ref
	}
	return s, nil
}

func (s *Source) readHeader() (*sam.Header, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	if s.isSAM {
		sr, err := sam.NewReader(in.Reader(ctx))
		if err != nil {
			return nil, err
		}
		return sr.Header(), nil
	}
	br, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, err
	}
	defer br.Close() // nolint: errcheck
	return br.Header(), nil
}

// Header returns the source's SAM header.
func (s *Source) Header() *sam.Header { return s.header }

func (s *Source) indexPath() string { return s.Path + ".bai" }

// EnsureIndexed builds a .bai positional index next to the BAM if one
// does not already exist.  It is idempotent: once the index file is on
// disk, repeated calls are no-ops.  The build is a single linear scan,
// potentially expensive for large files.
func (s *Source) EnsureIndexed() error {
	if s.isSAM {
		return errors.E("cannot index SAM file", s.Path)
	}
	if _, err := os.Stat(s.indexPath()); err == nil {
		return nil
	}
	log.Printf("building BAM index for %s", s.Path)
	ctx := vcontext.Background()
	in, err := file.Open(ctx, s.Path)
	if err != nil {
		return errors.E(err, "indexing", s.Path)
	}
	defer in.Close(ctx) // nolint: errcheck
	br, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return errors.E(err, "indexing", s.Path)
	}
	defer br.Close() // nolint: errcheck

	var idx bam.Index
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.E(err, "indexing", s.Path)
		}
		if err := idx.Add(rec, br.LastChunk()); err != nil {
			return errors.E(err, "indexing", s.Path)
		}
	}
	out, err := file.Create(ctx, s.indexPath())
	if err != nil {
		return errors.E(err, "writing index for", s.Path)
	}
	if err := bam.WriteIndex(out.Writer(ctx), &idx); err != nil {
		out.Close(ctx) // nolint: errcheck
		return errors.E(err, "writing index for", s.Path)
	}
	return out.Close(ctx)
}

// nativeRef resolves a normalized contig name to the source's header
// reference, or nil if the source has no such contig.
func (s *Source) nativeRef(contig string) *sam.Reference {
	native, ok := s.nameMap[contig]
	if !ok {
		return nil
	}
	return s.refByNative[native]
}

// HasContig reports whether the source's reference list carries the
// contig, under either naming convention.  Callers distinguishing "no
// coverage" from "no such contig" (the allele-support tabulation) check
// this before interpreting an empty fetch.
func (s *Source) HasContig(contig string) bool {
	return s.nativeRef(locus.NormalizeContig(contig)) != nil
}

// Reads returns an iterator over the source's alignments.  With a nil
// set the whole file is scanned in source order.  With a set, reads
// overlapping each stored locus are fetched in sorted locus order, and
// an alignment overlapping several loci is yielded exactly once (seen
// alignment keys are tracked across the whole call).  The source's
// filter conjunction is applied last.
func (s *Source) Reads(set *loci.Set) *ReadIter {
	it := &ReadIter{src: s, set: set}
	if set != nil {
		it.loci = set.Loci()
		it.seen = make(map[pileup.AlignmentKey]bool)
	}
	if s.isSAM || set == nil {
		it.linear = true
	} else if err := s.EnsureIndexed(); err != nil {
		it.err = err
		return it
	}
	if err := it.open(); err != nil {
		it.err = err
	}
	return it
}

// FetchOverlapping implements pileup.Fetcher as a one-shot
// convenience: it opens a Fetcher, fetches l, and closes.  Callers
// with more than one locus should hold an open Fetcher instead.
func (s *Source) FetchOverlapping(l locus.Locus) ([]*sam.Record, error) {
	f, err := s.OpenFetcher()
	if err != nil {
		return nil, err
	}
	recs, err := f.FetchOverlapping(l)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Pileups computes the pileup collection for the given loci through
// one open Fetcher, then, if the source carries read filters,
// re-filters every pileup element so that filtered-out reads never
// contribute counts.
func (s *Source) Pileups(set *loci.Set) (*pileup.Collection, error) {
	f, err := s.OpenFetcher()
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint: errcheck
	collection, err := pileup.FromFetcher(f, set)
	if err != nil {
		return nil, err
	}
	if len(s.filters) > 0 {
		collection.FilterElements(func(e pileup.Element) bool {
			return s.Accepts(e.Record)
		})
	}
	return collection, nil
}

// Accepts reports whether rec passes the conjunction of the source's
// read filters.  A source with no filters accepts everything.
func (s *Source) Accepts(rec *sam.Record) bool {
	for _, f := range s.filters {
		if !f(rec) {
			return false
		}
	}
	return true
}

func warnUnknownContig(path, contig string) {
	vlog.Errorf("no such contig in %s: %s (skipping)", path, contig)
}
