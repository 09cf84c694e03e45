package readsource_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/readsource"
)

var (
	ref22, _  = sam.NewReference("chr22", "", "", 51304566, nil, nil)
	refX, _   = sam.NewReference("chrX", "", "", 155270560, nil, nil)
	header, _ = sam.NewHeader(nil, []*sam.Reference{ref22, refX})
)

func read(ref *sam.Reference, name string, pos int, seq string, flags sam.Flags) *sam.Record {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 40
	}
	return &sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		MapQ:    60,
		Cigar:   []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		Flags:   flags,
		MateRef: nil,
		MatePos: -1,
		Seq:     sam.NewSeq([]byte(seq)),
		Qual:    qual,
	}
}

// writeBAM writes recs (which must be in coordinate order) to a .bam
// file under dir.
func writeBAM(t *testing.T, dir, name string, recs []*sam.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	assert.NoError(t, err)
	bw, err := bam.NewWriter(out, header, 1)
	assert.NoError(t, err)
	for _, rec := range recs {
		assert.NoError(t, bw.Write(rec))
	}
	assert.NoError(t, bw.Close())
	assert.NoError(t, out.Close())
	return path
}

func mustSet(t *testing.T, texts ...string) *loci.Set {
	t.Helper()
	parsed := make([]locus.Locus, 0, len(texts))
	for _, text := range texts {
		l, err := locus.Parse(text)
		assert.NoError(t, err)
		parsed = append(parsed, l)
	}
	return loci.NewSet(parsed...)
}

func collect(t *testing.T, it *readsource.ReadIter) []*sam.Record {
	t.Helper()
	var recs []*sam.Record
	for it.Scan() {
		recs = append(recs, it.Record())
	}
	assert.NoError(t, it.Close())
	return recs
}

func TestFullScan(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGT", 0),
		read(ref22, "r2", 200, "ACGT", 0),
		read(refX, "r3", 50, "ACGT", 0),
	})
	src, err := readsource.Open(path, "")
	assert.NoError(t, err)
	recs := collect(t, src.Reads(nil))
	expect.EQ(t, 3, len(recs))
	expect.EQ(t, "r1", recs[0].Name)
	expect.EQ(t, "r3", recs[2].Name)
}

func TestRegionFetch(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGT", 0),
		read(ref22, "r2", 200, "ACGT", 0),
		read(ref22, "r3", 300, "ACGT", 0),
		read(refX, "r4", 100, "ACGT", 0),
	})
	src, err := readsource.Open(path, "")
	assert.NoError(t, err)

	// Source contigs are "chr22"/"chrX"; queries use the normalized
	// names.
	recs := collect(t, src.Reads(mustSet(t, "22/199-205")))
	expect.EQ(t, 1, len(recs))
	expect.EQ(t, "r2", recs[0].Name)

	recs = collect(t, src.Reads(mustSet(t, "X/100-104")))
	expect.EQ(t, 1, len(recs))
	expect.EQ(t, "r4", recs[0].Name)

	// The index is built lazily next to the BAM on first region query.
	_, err = os.Stat(path + ".bai")
	expect.NoError(t, err)
}

func TestOverlappingLociYieldEachAlignmentOnce(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGTACGT", 0), // spans [100,108)
	})
	src, err := readsource.Open(path, "")
	assert.NoError(t, err)

	// Both loci overlap r1; it must be yielded exactly once.
	recs := collect(t, src.Reads(mustSet(t, "22/101", "22/106")))
	expect.EQ(t, 1, len(recs))
	expect.EQ(t, "r1", recs[0].Name)
}

func TestUnknownContigIsSkipped(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGT", 0),
	})
	src, err := readsource.Open(path, "")
	assert.NoError(t, err)

	recs := collect(t, src.Reads(mustSet(t, "17/100-200", "22/100-104")))
	expect.EQ(t, 1, len(recs))
	expect.EQ(t, "r1", recs[0].Name)
}

func TestSourceFilters(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGT", 0),
		read(ref22, "r2", 100, "ACGT", sam.Duplicate),
	})
	pred, err := readsource.CompileFilter("not is_duplicate")
	assert.NoError(t, err)
	src, err := readsource.Open(path, "", pred)
	assert.NoError(t, err)

	recs := collect(t, src.Reads(mustSet(t, "22/101")))
	expect.EQ(t, 1, len(recs))
	expect.EQ(t, "r1", recs[0].Name)
}

func TestPileupsApplyFilters(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGT", 0),
		read(ref22, "r2", 100, "ATGT", 0),
	})
	pred, err := readsource.CompileFilter("mapping_quality >= 30")
	assert.NoError(t, err)
	src, err := readsource.Open(path, "", pred)
	assert.NoError(t, err)

	set := mustSet(t, "22/101")
	c, err := src.Pileups(set)
	assert.NoError(t, err)
	expect.EQ(t, map[string]int{"C": 1, "T": 1}, c.AlleleSummary(set.Loci()[0]))
}

func TestFetcherReuse(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, "reads.bam", []*sam.Record{
		read(ref22, "r1", 100, "ACGT", 0),
		read(ref22, "r2", 200, "ACGT", 0),
		read(refX, "r3", 50, "ACGT", 0),
	})
	src, err := readsource.Open(path, "")
	assert.NoError(t, err)
	f, err := src.OpenFetcher()
	assert.NoError(t, err)

	fetch := func(text string) []string {
		l, err := locus.Parse(text)
		assert.NoError(t, err)
		recs, err := f.FetchOverlapping(l)
		assert.NoError(t, err)
		names := make([]string, 0, len(recs))
		for _, rec := range recs {
			names = append(names, rec.Name)
		}
		return names
	}
	// One open fetcher serves many region queries, in any order.
	expect.EQ(t, []string{"r2"}, fetch("22/200-204"))
	expect.EQ(t, []string{"r1"}, fetch("22/100-104"))
	expect.EQ(t, []string{"r3"}, fetch("X/50-54"))
	expect.EQ(t, 0, len(fetch("17/100-200"))) // unknown contig is skipped
	assert.NoError(t, f.Close())
}

func TestCompileFilterErrors(t *testing.T) {
	for _, text := range []string{
		"import os",
		"mapping_quality == 'x'",
		"query_name",
		"reference_start = 5",
	} {
		_, err := readsource.CompileFilter(text)
		expect.NotNil(t, err)
		expect.True(t, strings.Contains(err.Error(), "compiling filter"))
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := readsource.Open("/nonexistent/reads.bam", "")
	expect.NotNil(t, err)
}

func TestSAMSource(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpdir, "reads.sam")
	out, err := os.Create(path)
	assert.NoError(t, err)
	sw, err := sam.NewWriter(out, header, sam.FlagDecimal)
	assert.NoError(t, err)
	assert.NoError(t, sw.Write(read(ref22, "r1", 100, "ACGT", 0)))
	assert.NoError(t, sw.Write(read(ref22, "r2", 500, "ACGT", 0)))
	assert.NoError(t, out.Close())

	src, err := readsource.Open(path, "")
	assert.NoError(t, err)
	expect.NotNil(t, src.EnsureIndexed()) // cannot index SAM

	// SAM region queries degrade to a filtered linear scan.
	recs := collect(t, src.Reads(mustSet(t, "22/101")))
	expect.EQ(t, 1, len(recs))
	expect.EQ(t, "r1", recs[0].Name)
}
