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

// Package cmdutil holds the flag and I/O plumbing shared by the varlens
// commands.
package cmdutil

import (
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/locus"
	"github.com/grailbio/varlens/readsource"
	"github.com/grailbio/varlens/variant"
)

// StringsFlag is a repeatable string flag.  Each occurrence appends one
// value.
type StringsFlag []string

// String implements flag.Value.
func (f *StringsFlag) String() string { return strings.Join(*f, ",") }

// Set implements flag.Value.
func (f *StringsFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// ParseLoci parses -locus flag values, each a comma-separated list of
// locus strings, into a set.
func ParseLoci(texts []string) (*loci.Set, error) {
	var parsed []locus.Locus
	for _, text := range texts {
		for _, one := range strings.Split(text, ",") {
			one = strings.TrimSpace(one)
			if one == "" {
				continue
			}
			l, err := locus.Parse(one)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, l)
		}
	}
	return loci.NewSet(parsed...), nil
}

// LoadVariants loads and merges the -variants inputs.
func LoadVariants(inputs []string, genome string) (*variant.Collection, error) {
	opts := variant.DefaultLoadOpts
	opts.Genome = genome
	return variant.Load(inputs, opts)
}

// QueryLoci combines explicit -locus values with the loci of the given
// variants.  At least one of the two must be nonempty.
func QueryLoci(locusTexts []string, variants *variant.Collection) (*loci.Set, error) {
	set, err := ParseLoci(locusTexts)
	if err != nil {
		return nil, err
	}
	if variants != nil {
		set = set.Union(variants.Loci())
	}
	if set.Len() == 0 {
		return nil, errors.E("no loci to query: pass -locus and/or -variants")
	}
	return set, nil
}

// OpenSources opens every -reads path as a read source, applying the
// optional filter expression to all of them.
func OpenSources(paths []string, filterText string) ([]*readsource.Source, error) {
	var preds []readsource.Predicate
	if filterText != "" {
		pred, err := readsource.CompileFilter(filterText)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	sources := make([]*readsource.Source, 0, len(paths))
	for _, path := range paths {
		src, err := readsource.Open(path, path, preds...)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Output opens the -out destination, or stdout when path is empty.
func Output(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	ctx := vcontext.Background()
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	return &fileCloser{f: out, w: out.Writer(ctx)}, nil
}

type fileCloser struct {
	f file.File
	w io.Writer
}

func (f *fileCloser) Write(p []byte) (int, error) { return f.w.Write(p) }

func (f *fileCloser) Close() error { return f.f.Close(vcontext.Background()) }
