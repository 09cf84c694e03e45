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
package variant

import (
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/brentp/vcfgo"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/varlens/locus"
	"github.com/klauspost/compress/gzip"
)

// LoadOpts controls VCF loading.  Every option can also be given in the
// input URL fragment, which takes precedence:
//
//	variants.vcf.gz#genome=b37&only_passing=true&filter=ref=='A'&metadata.sample=s1
type LoadOpts struct {
	// Genome names the reference build the variants are called against.
	Genome string
	// Filter is a filterexpr predicate over VariantFields; variants
	// failing it are dropped at load time.
	Filter string
	// OnlyPassing drops variants whose VCF FILTER column is set to
	// anything but PASS.  On by default; disable per input with
	// only_passing=false in the URL fragment.
	OnlyPassing bool
	// MaxVariants, if positive, truncates the collection.
	MaxVariants int
	// Metadata is attached to every variant loaded from this input.
	Metadata map[string]string
}

// DefaultLoadOpts are the options applied when the URL fragment gives
// none: failing calls are dropped.
var DefaultLoadOpts = LoadOpts{OnlyPassing: true}

// parseInput splits a variant input URL into its file path and the
// fragment-derived load options.
func parseInput(input string, opts LoadOpts) (string, LoadOpts, error) {
	path := input
	idx := strings.IndexByte(input, '#')
	if idx < 0 {
		return path, opts, nil
	}
	path = input[:idx]
	values, err := url.ParseQuery(input[idx+1:])
	if err != nil {
		return "", opts, errors.E(err, "parsing variant input", input)
	}
	for key := range values {
		v := values.Get(key)
		switch {
		case key == "genome":
			opts.Genome = v
		case key == "filter":
			opts.Filter = v
		case key == "only_passing":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return "", opts, errors.E("bad only_passing value in", input)
			}
			opts.OnlyPassing = b
		case key == "max_variants":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return "", opts, errors.E("bad max_variants value in", input)
			}
			opts.MaxVariants = n
		case strings.HasPrefix(key, "metadata."):
			if opts.Metadata == nil {
				opts.Metadata = make(map[string]string)
			}
			opts.Metadata[strings.TrimPrefix(key, "metadata.")] = v
		default:
			return "", opts, errors.E("unknown variant input parameter", key, "in", input)
		}
	}
	return path, opts, nil
}

// LoadVCF loads the variants from one VCF input, one Variant per alt
// allele, contigs normalized and positions converted to interbase.
// Inputs ending in .gz are decompressed transparently.
func LoadVCF(input string, opts LoadOpts) (*Collection, error) {
	path, opts, err := parseInput(input, opts)
	if err != nil {
		return nil, err
	}
	var pred func(Variant) bool
	if opts.Filter != "" {
		if pred, err = CompileFilter(opts.Filter); err != nil {
			return nil, err
		}
	}

	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "opening variant input", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	var r io.Reader = in.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, "decompressing variant input", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	// Lazy sample parsing: genotype columns are never consulted.
	rdr, err := vcfgo.NewReader(r, true)
	if err != nil {
		return nil, errors.E(err, "reading VCF header of", path)
	}

	c := NewCollection()
	for {
		rec := rdr.Read()
		if rec == nil {
			break
		}
		// Drop per-record validation complaints; the loader is permissive
		// about nonconforming INFO fields the way upstream callers expect.
		rdr.Clear()
		if opts.OnlyPassing && rec.Filter != "PASS" && rec.Filter != "." && rec.Filter != "" {
			continue
		}
		ref := rec.Ref()
		for _, alt := range rec.Alt() {
			if alt == "" || alt == "." || strings.HasPrefix(alt, "<") {
				continue
			}
			v := Variant{
				Genome:         opts.Genome,
				Contig:         locus.NormalizeContig(rec.Chromosome),
				InterbaseStart: int(rec.Pos) - 1,
				InterbaseEnd:   int(rec.Pos) - 1 + len(ref),
				Ref:            ref,
				Alt:            alt,
			}
			if pred != nil && !pred(v) {
				continue
			}
			c.add(v, path, opts.Metadata)
			if opts.MaxVariants > 0 && len(c.Variants) >= opts.MaxVariants {
				return c, nil
			}
		}
	}
	return c, nil
}

// Load loads and merges several variant inputs.
func Load(inputs []string, opts LoadOpts) (*Collection, error) {
	collections := make([]*Collection, 0, len(inputs))
	for _, input := range inputs {
		c, err := LoadVCF(input, opts)
		if err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return MergeCollections(collections...)
}
