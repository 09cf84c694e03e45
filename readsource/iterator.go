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

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/pileup"
)

// ReadIter iterates over a Source's alignment records.  Use via
// Scan/Record/Err/Close.  Not thread safe; the "seen" deduplication set
// is local to one iterator and is dropped when it is closed.
type ReadIter struct {
	src *Source
	set *loci.Set

	// linear is true for full scans and for SAM sources (which have no
	// positional index and must be filtered against the loci set).
	linear   bool
	noFilter bool

	loci []locus.Locus
	seen map[pileup.AlignmentKey]bool

	in      file.File
	breader *bam.Reader
	sreader *sam.Reader
	bindex  *bam.Index

	// Region-fetch state: the locus currently being read, or none.
	lociIdx  int
	inRegion bool
	cur      locus.Locus
	curRef   *sam.Reference

	rec *sam.Record
	err error
}

func (it *ReadIter) open() error {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, it.src.Path)
	if err != nil {
		return err
	}
	it.in = in
	if it.src.isSAM {
		if it.sreader, err = sam.NewReader(in.Reader(ctx)); err != nil {
			return err
		}
		return nil
	}
	if it.breader, err = bam.NewReader(in.Reader(ctx), 1); err != nil {
		return err
	}
	if !it.linear {
		indexIn, err := file.Open(ctx, it.src.indexPath())
		if err != nil {
			return err
		}
		defer indexIn.Close(ctx) // nolint: errcheck
		if it.bindex, err = bam.ReadIndex(indexIn.Reader(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// Scan advances the iterator to the next record, returning false at the
// end of the sequence or on error.
func (it *ReadIter) Scan() bool {
	if it.err != nil {
		return false
	}
	if it.linear {
		return it.scanLinear()
	}
	return it.scanRegions()
}

// Record returns the current record.  Valid only after Scan returns
// true.
func (it *ReadIter) Record() *sam.Record { return it.rec }

// Err returns the error that stopped iteration, if any.  io.EOF is
// translated to nil.
func (it *ReadIter) Err() error {
	if it.err == io.EOF {
		return nil
	}
	return it.err
}

// Close releases the iterator's file handles and returns Err().
func (it *ReadIter) Close() error {
	ctx := vcontext.Background()
	if it.breader != nil {
		if err := it.breader.Close(); err != nil && it.err == nil {
			it.err = err
		}
		it.breader = nil
	}
	if it.in != nil {
		if err := it.in.Close(ctx); err != nil && it.err == nil {
			it.err = err
		}
		it.in = nil
	}
	return it.Err()
}

func (it *ReadIter) read() (*sam.Record, error) {
	if it.sreader != nil {
		return it.sreader.Read()
	}
	return it.breader.Read()
}

// scanLinear reads the file in source order.  With a loci set (the SAM
// case), records not overlapping the set are skipped and duplicates by
// alignment key are suppressed.
func (it *ReadIter) scanLinear() bool {
	for {
		rec, err := it.read()
		if err != nil {
			it.err = err
			return false
		}
		if it.set != nil {
			if rec.Ref == nil {
				continue
			}
			l := locus.Locus{
				Contig: locus.NormalizeContig(rec.Ref.Name()),
				Start:  rec.Pos,
				End:    rec.End(),
			}
			if !it.set.Intersects(l) {
				continue
			}
			key := pileup.NewAlignmentKey(rec)
			if it.seen[key] {
				continue
			}
			it.seen[key] = true
		}
		if !it.noFilter && !it.src.Accepts(rec) {
			continue
		}
		it.rec = rec
		return true
	}
}

// scanRegions walks the loci in sorted order, seeking to each region
// through the positional index.
func (it *ReadIter) scanRegions() bool {
	for {
		if !it.inRegion {
			if !it.nextRegion() {
				return false
			}
		}
		rec, err := it.breader.Read()
		if err == io.EOF {
			it.inRegion = false
			continue
		}
		if err != nil {
			it.err = err
			return false
		}
		if rec.Ref == nil || rec.Ref.ID() != it.curRef.ID() || rec.Pos >= it.cur.End {
			// Sorted input: nothing further in this region.
			it.inRegion = false
			continue
		}
		if rec.End() <= it.cur.Start {
			continue
		}
		key := pileup.NewAlignmentKey(rec)
		if it.seen[key] {
			continue
		}
		it.seen[key] = true
		if !it.noFilter && !it.src.Accepts(rec) {
			continue
		}
		it.rec = rec
		return true
	}
}

// nextRegion seeks the BAM reader to the next locus with any indexed
// data.  Unknown contigs are skipped with a warning.
func (it *ReadIter) nextRegion() bool {
	for it.lociIdx < len(it.loci) {
		l := it.loci[it.lociIdx]
		it.lociIdx++
		ref := it.src.nativeRef(l.Contig)
		if ref == nil {
			warnUnknownContig(it.src.Path, l.Contig)
			continue
		}
		chunks, err := it.bindex.Chunks(ref, l.Start, l.End)
		if err == index.ErrInvalid || len(chunks) == 0 {
			// No reads indexed for this interval.
			continue
		}
		if err != nil {
			it.err = err
			return false
		}
		if err := it.seek(chunks[0].Begin); err != nil {
			it.err = err
			return false
		}
		it.cur = l
		it.curRef = ref
		it.inRegion = true
		return true
	}
	it.err = io.EOF
	return false
}

func (it *ReadIter) seek(offset bgzf.Offset) error {
	return it.breader.Seek(offset)
}
