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
package main

/*
varlens-allele-support tabulates, for each queried locus and each read
source, the number of distinct reads supporting each allele observed
there.  Loci come from -locus flags, variant files, or both.
*/

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varlens/cmdutil"
	"github.com/grailbio/varlens/filterexpr"
	"github.com/grailbio/varlens/pileup"
	"github.com/grailbio/varlens/readsource"
	"github.com/grailbio/varlens/support"
	"github.com/grailbio/varlens/variant"
)

var (
	locusFlags   cmdutil.StringsFlag
	readsFlags   cmdutil.StringsFlag
	variantFlags cmdutil.StringsFlag
	groupFlags   cmdutil.StringsFlag
	readFilter   = flag.String("read-filter", "", "Filter expression applied to reads, e.g. 'mapping_quality >= 30 and not is_duplicate'")
	genome       = flag.String("genome", "", "Reference build of the variant inputs, e.g. b37")
	outPath      = flag.String("out", "", "Output CSV path; default stdout")
)

func init() {
	flag.Var(&locusFlags, "locus", "Locus to query, contig:start[-end] (1-based) or contig/start[-end] (interbase); comma lists and repeats allowed")
	flag.Var(&readsFlags, "reads", "BAM/SAM file to draw evidence from; repeatable")
	flag.Var(&variantFlags, "variants", "VCF input whose variant loci are added to the query; repeatable, URL-fragment options allowed")
	flag.Var(&groupFlags, "count-group", "Extra count column as label:filter-expression; repeatable")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -reads reads.bam [-locus 22:46929963] [-variants calls.vcf] [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func countGroups(texts []string) ([]support.CountGroup, error) {
	groups := make([]support.CountGroup, 0, len(texts))
	for _, text := range texts {
		label, expr := filterexpr.SplitLabeled(text)
		pred, err := readsource.CompileFilter(expr)
		if err != nil {
			return nil, err
		}
		groups = append(groups, support.CountGroup{
			Name: label,
			Pred: func(e pileup.Element) bool { return pred(e.Record) },
		})
	}
	return groups, nil
}

func run() error {
	var variants *variant.Collection
	if len(variantFlags) > 0 {
		var err error
		if variants, err = cmdutil.LoadVariants(variantFlags, *genome); err != nil {
			return err
		}
	}
	set, err := cmdutil.QueryLoci(locusFlags, variants)
	if err != nil {
		return err
	}
	sources, err := cmdutil.OpenSources(readsFlags, *readFilter)
	if err != nil {
		return err
	}
	groups, err := countGroups(groupFlags)
	if err != nil {
		return err
	}

	out, err := cmdutil.Output(*outPath)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	if err := w.Write(support.Columns(groups)); err != nil {
		return err
	}
	it := support.AlleleSupportRows(set.Loci(), sources, groups)
	for it.Scan() {
		row := it.Row()
		record := []string{
			row.Source,
			row.Contig,
			strconv.Itoa(row.InterbaseStart),
			strconv.Itoa(row.InterbaseEnd),
			row.Allele,
			strconv.Itoa(row.Count),
		}
		for _, c := range row.GroupCounts {
			record = append(record, strconv.Itoa(c))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return out.Close()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if len(readsFlags) == 0 {
		log.Fatalf("at least one -reads input is required")
	}
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}
