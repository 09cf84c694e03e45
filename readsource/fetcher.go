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
package readsource

import (
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/pileup"
)

// Fetcher fetches the alignments overlapping one locus at a time,
// keeping the source's BAM reader and positional index open across
// fetches so that per-locus queries cost one seek, not one open plus
// one index parse.  It implements pileup.Fetcher.  Fetches bypass the
// source-level read filters; pileup callers re-apply them at the
// element level so counts and groups stay in sync.  Not thread safe.
type Fetcher struct {
	src     *Source
	in      file.File
	breader *bam.Reader
	bindex  *bam.Index
}

// OpenFetcher prepares a Fetcher, building the .bai index first when
// the source is an indexable BAM.  SAM sources have no positional
// index; their fetches degrade to filtered linear scans.
func (s *Source) OpenFetcher() (*Fetcher, error) {
	f := &Fetcher{src: s}
	if s.isSAM {
		return f, nil
	}
	if err := s.EnsureIndexed(); err != nil {
		return nil, err
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, s.Path)
	if err != nil {
		return nil, errors.E(err, "opening read source", s.Path)
	}
	breader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.E(err, "opening read source", s.Path)
	}
	indexIn, err := file.Open(ctx, s.indexPath())
	if err == nil {
		f.bindex, err = bam.ReadIndex(indexIn.Reader(ctx))
		indexIn.Close(ctx) // nolint: errcheck
	}
	if err != nil {
		breader.Close() // nolint: errcheck
		in.Close(ctx)   // nolint: errcheck
		return nil, errors.E(err, "reading index of", s.Path)
	}
	f.in, f.breader = in, breader
	return f, nil
}

// FetchOverlapping returns the alignments overlapping l, deduplicated
// by alignment key.  An unknown contig is recoverable: it logs a
// warning and yields no records, since loci are commonly built from
// sources (VCFs of mixed genome builds) that only partially match
// this file's reference set.
func (f *Fetcher) FetchOverlapping(l locus.Locus) ([]*sam.Record, error) {
	if f.src.isSAM {
		return f.fetchLinear(l)
	}
	ref := f.src.nativeRef(locus.NormalizeContig(l.Contig))
	if ref == nil {
		warnUnknownContig(f.src.Path, l.Contig)
		return nil, nil
	}
	chunks, err := f.bindex.Chunks(ref, l.Start, l.End)
	if err == index.ErrInvalid || len(chunks) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := f.breader.Seek(chunks[0].Begin); err != nil {
		return nil, err
	}
	seen := make(map[pileup.AlignmentKey]bool)
	var recs []*sam.Record
	for {
		rec, err := f.breader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rec.Ref == nil || rec.Ref.ID() != ref.ID() || rec.Pos >= l.End {
			// Sorted input: nothing further can overlap.
			break
		}
		if rec.End() <= l.Start {
			continue
		}
		key := pileup.NewAlignmentKey(rec)
		if seen[key] {
			continue
		}
		seen[key] = true
		recs = append(recs, rec)
	}
	return recs, nil
}

func (f *Fetcher) fetchLinear(l locus.Locus) ([]*sam.Record, error) {
	if f.src.nativeRef(locus.NormalizeContig(l.Contig)) == nil {
		warnUnknownContig(f.src.Path, l.Contig)
		return nil, nil
	}
	it := f.src.Reads(loci.NewSet(l))
	it.noFilter = true
	var recs []*sam.Record
	for it.Scan() {
		recs = append(recs, it.Record())
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Close releases the fetcher's reader and file handle.
func (f *Fetcher) Close() error {
	var firstErr error
	if f.breader != nil {
		if err := f.breader.Close(); err != nil {
			firstErr = err
		}
		f.breader = nil
	}
	if f.in != nil {
		if err := f.in.Close(vcontext.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
		f.in = nil
	}
	return firstErr
}
