package support_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/pileup"
	"github.com/grailbio/varlens/readsource"
	"github.com/grailbio/varlens/support"
	"github.com/grailbio/varlens/variant"
	"github.com/pkg/errors"
)

var (
	ref22, _  = sam.NewReference("chr22", "", "", 51304566, nil, nil)
	header, _ = sam.NewHeader(nil, []*sam.Reference{ref22})
)

func read(name string, pos int, seq string, mapq byte) *sam.Record {
	return readCigar(name, pos, seq, mapq,
		[]sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))})
}

func readCigar(name string, pos int, seq string, mapq byte, cigar []sam.CigarOp) *sam.Record {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 40
	}
	return &sam.Record{
		Name:  name,
		Ref:   ref22,
		Pos:   pos,
		MapQ:  mapq,
		Cigar: cigar,
		Seq:   sam.NewSeq([]byte(seq)),
		Qual:  qual,
	}
}

func writeBAM(t *testing.T, dir string, recs []*sam.Record) string {
	t.Helper()
	path := filepath.Join(dir, "reads.bam")
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

func mustLoci(t *testing.T, texts ...string) []locus.Locus {
	t.Helper()
	parsed := make([]locus.Locus, 0, len(texts))
	for _, text := range texts {
		l, err := locus.Parse(text)
		assert.NoError(t, err)
		parsed = append(parsed, l)
	}
	return parsed
}

func drain(t *testing.T, it *support.RowIter) []support.Row {
	t.Helper()
	var rows []support.Row
	for it.Scan() {
		rows = append(rows, it.Row())
	}
	assert.NoError(t, it.Err())
	return rows
}

// Sixty reads carrying C at chr22:46929963 (1-based) must come out as
// one row with the contig normalized and the count intact.
func TestAlleleSupportEndToEnd(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	recs := make([]*sam.Record, 0, 60)
	for i := 0; i < 60; i++ {
		recs = append(recs, read(fmt.Sprintf("r%03d", i), 46929960, "AACTT", 60))
	}
	path := writeBAM(t, tmpdir, recs)
	src, err := readsource.Open(path, "sample1")
	assert.NoError(t, err)

	rows := drain(t, support.AlleleSupportRows(mustLoci(t, "chr22:46929963"), []*readsource.Source{src}, nil))
	expect.EQ(t, []support.Row{{
		Source:         "sample1",
		Contig:         "22",
		InterbaseStart: 46929962,
		InterbaseEnd:   46929963,
		Allele:         "C",
		Count:          60,
		GroupCounts:    nil,
	}}, rows)
}

func TestZeroCoverageRow(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, []*sam.Record{read("r1", 100, "ACGT", 60)})
	src, err := readsource.Open(path, "s")
	assert.NoError(t, err)

	rows := drain(t, support.AlleleSupportRows(mustLoci(t, "22/500-503"), []*readsource.Source{src}, nil))
	expect.EQ(t, 1, len(rows))
	expect.EQ(t, "NNN", rows[0].Allele)
	expect.EQ(t, 0, rows[0].Count)
}

func TestUnknownContigYieldsNoRows(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, []*sam.Record{read("r1", 100, "ACGT", 60)})
	src, err := readsource.Open(path, "s")
	assert.NoError(t, err)

	// "17" is absent from the source's reference list: skipped, not even
	// a placeholder row.  "22" at an uncovered window still gets one.
	rows := drain(t, support.AlleleSupportRows(mustLoci(t, "17/100-104", "22/500-503"), []*readsource.Source{src}, nil))
	expect.EQ(t, 1, len(rows))
	expect.EQ(t, "22", rows[0].Contig)
	expect.EQ(t, "NNN", rows[0].Allele)
}

func TestCountGroups(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := writeBAM(t, tmpdir, []*sam.Record{
		read("r1", 100, "ACGT", 60),
		read("r2", 100, "ACGT", 10),
	})
	src, err := readsource.Open(path, "s")
	assert.NoError(t, err)

	pred, err := readsource.CompileFilter("mapping_quality >= 50")
	assert.NoError(t, err)
	groups := []support.CountGroup{{
		Name: "high_mapq",
		Pred: func(e pileup.Element) bool { return pred(e.Record) },
	}}
	expect.EQ(t, []string{"source", "contig", "interbase_start", "interbase_end", "allele", "count", "high_mapq"},
		support.Columns(groups))

	rows := drain(t, support.AlleleSupportRows(mustLoci(t, "22/101"), []*readsource.Source{src}, groups))
	expect.EQ(t, 1, len(rows))
	expect.EQ(t, 2, rows[0].Count)
	expect.EQ(t, []int{1}, rows[0].GroupCounts)
}

// Two variants at adjacent one-base windows must each find their own
// evidence rows: the windows are tabulated exactly as given, never
// widened into one interval covering both.
func TestAdjacentVariantWindowsJoin(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	recs := make([]*sam.Record, 0, 3)
	for i := 0; i < 3; i++ {
		recs = append(recs, read(fmt.Sprintf("r%d", i), 46929960, "AACTT", 60))
	}
	path := writeBAM(t, tmpdir, recs)
	src, err := readsource.Open(path, "s1")
	assert.NoError(t, err)

	c := variant.NewCollection()
	c.Variants = []variant.Variant{
		{Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Ref: "A", Alt: "C"},
		{Contig: "22", InterbaseStart: 46929963, InterbaseEnd: 46929964, Ref: "T", Alt: "G"},
	}
	rows := drain(t, support.AlleleSupportRows(c.VariantLoci(), []*readsource.Source{src}, nil))
	expect.EQ(t, 2, len(rows))
	expect.EQ(t, 46929962, rows[0].InterbaseStart)
	expect.EQ(t, 46929963, rows[1].InterbaseStart)

	ms, err := support.VariantSupport(c.Variants, support.NewSupportTable(rows), false)
	assert.NoError(t, err)
	expect.EQ(t, 2, len(ms))
	expect.EQ(t, 3, ms[0].NumAlt) // every read shows C at the first window
	expect.EQ(t, 3, ms[0].TotalDepth)
	expect.EQ(t, 3, ms[1].NumRef) // and the reference T at the second
	expect.EQ(t, 3, ms[1].TotalDepth)
}

// An insertion call (ref "A", alt "AC") is supported by reads whose
// pileup allele carries the inserted base on its anchor.
func TestInsertionVariantSupport(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	insertion := []sam.CigarOp{
		sam.NewCigarOp(sam.CigarMatch, 1),
		sam.NewCigarOp(sam.CigarInsertion, 1),
		sam.NewCigarOp(sam.CigarMatch, 2),
	}
	path := writeBAM(t, tmpdir, []*sam.Record{
		readCigar("r1", 46929962, "ACTT", 60, insertion),
		read("r2", 46929962, "ATT", 60),
	})
	src, err := readsource.Open(path, "s1")
	assert.NoError(t, err)

	c := variant.NewCollection()
	c.Variants = []variant.Variant{
		{Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Ref: "A", Alt: "AC"},
	}
	rows := drain(t, support.AlleleSupportRows(c.VariantLoci(), []*readsource.Source{src}, nil))
	ms, err := support.VariantSupport(c.Variants, support.NewSupportTable(rows), false)
	assert.NoError(t, err)
	expect.EQ(t, 1, len(ms))
	expect.EQ(t, 1, ms[0].NumRef)
	expect.EQ(t, 1, ms[0].NumAlt)
	expect.EQ(t, 2, ms[0].TotalDepth)
	expect.EQ(t, 0.5, ms[0].AltFraction)
}

func testVariant() variant.Variant {
	return variant.Variant{
		Contig:         "22",
		InterbaseStart: 46929962,
		InterbaseEnd:   46929963,
		Ref:            "A",
		Alt:            "C",
	}
}

func TestVariantSupportJoin(t *testing.T) {
	v := testVariant()
	table := support.NewSupportTable([]support.Row{
		{Source: "s1", Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Allele: "A", Count: 6},
		{Source: "s1", Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Allele: "C", Count: 3},
		{Source: "s1", Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Allele: "T", Count: 1},
	})
	ms, err := support.VariantSupport([]variant.Variant{v}, table, false)
	assert.NoError(t, err)
	expect.EQ(t, 1, len(ms))
	m := ms[0]
	expect.EQ(t, "s1", m.Source)
	expect.EQ(t, 6, m.NumRef)
	expect.EQ(t, 3, m.NumAlt)
	expect.EQ(t, 1, m.NumOther)
	expect.EQ(t, 10, m.TotalDepth)
	expect.EQ(t, 0.3, m.AltFraction)
	expect.EQ(t, 0.4, m.AnyAltFraction)
}

func TestVariantSupportMissingEvidence(t *testing.T) {
	v := testVariant()
	table := support.NewSupportTable([]support.Row{
		{Source: "s1", Contig: "22", InterbaseStart: 1, InterbaseEnd: 2, Allele: "A", Count: 1},
	})
	_, err := support.VariantSupport([]variant.Variant{v}, table, false)
	expect.EQ(t, support.ErrMissingEvidence, errors.Cause(err))

	ms, err := support.VariantSupport([]variant.Variant{v}, table, true)
	assert.NoError(t, err)
	expect.EQ(t, 1, len(ms))
	expect.EQ(t, 0, ms[0].TotalDepth)
	expect.EQ(t, 0.0, ms[0].AltFraction)
}

func TestVariantSupportDuplicateVariant(t *testing.T) {
	v := testVariant()
	table := support.NewSupportTable([]support.Row{
		{Source: "s1", Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Allele: "A", Count: 1},
	})
	_, err := support.VariantSupport([]variant.Variant{v, v}, table, false)
	expect.EQ(t, support.ErrDuplicateVariant, errors.Cause(err))
}

func TestZeroCoverageRowJoins(t *testing.T) {
	// The "NNN" placeholder row makes the locus present in the table, so
	// a strict join succeeds with zero depth.
	v := testVariant()
	table := support.NewSupportTable([]support.Row{
		{Source: "s1", Contig: "22", InterbaseStart: 46929962, InterbaseEnd: 46929963, Allele: "N", Count: 0},
	})
	ms, err := support.VariantSupport([]variant.Variant{v}, table, false)
	assert.NoError(t, err)
	expect.EQ(t, 0, ms[0].TotalDepth)
	expect.EQ(t, 0.0, ms[0].AnyAltFraction)
}
