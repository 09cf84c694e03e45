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
varlens-reads exports the alignment records of BAM/SAM files as CSV,
optionally restricted to reads overlapping given loci or variant
positions and passing a filter expression.
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
	"github.com/grailbio/varlens/loci"
	"github.com/grailbio/varlens/variant"
)

var (
	locusFlags   cmdutil.StringsFlag
	readsFlags   cmdutil.StringsFlag
	variantFlags cmdutil.StringsFlag
	readFilter   = flag.String("read-filter", "", "Filter expression applied to reads")
	genome       = flag.String("genome", "", "Reference build of the variant inputs, e.g. b37")
	outPath      = flag.String("out", "", "Output CSV path; default stdout")
)

func init() {
	flag.Var(&locusFlags, "locus", "Restrict output to reads overlapping this locus; comma lists and repeats allowed")
	flag.Var(&readsFlags, "reads", "BAM/SAM file to export; repeatable")
	flag.Var(&variantFlags, "variants", "VCF input whose variant loci restrict the output; repeatable")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -reads reads.bam [-locus 22:46929963] [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func run() error {
	var set *loci.Set
	if len(locusFlags) > 0 || len(variantFlags) > 0 {
		var variants *variant.Collection
		if len(variantFlags) > 0 {
			var err error
			if variants, err = cmdutil.LoadVariants(variantFlags, *genome); err != nil {
				return err
			}
		}
		var err error
		if set, err = cmdutil.QueryLoci(locusFlags, variants); err != nil {
			return err
		}
	}
	sources, err := cmdutil.OpenSources(readsFlags, *readFilter)
	if err != nil {
		return err
	}

	out, err := cmdutil.Output(*outPath)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	header := []string{
		"source", "query_name", "contig", "reference_start", "reference_end",
		"cigar", "mapping_quality", "flags",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, src := range sources {
		it := src.Reads(set)
		for it.Scan() {
			rec := it.Record()
			contig := ""
			if rec.Ref != nil {
				contig = rec.Ref.Name()
			}
			record := []string{
				src.Name,
				rec.Name,
				contig,
				strconv.Itoa(rec.Pos),
				strconv.Itoa(rec.End()),
				rec.Cigar.String(),
				strconv.Itoa(int(rec.MapQ)),
				strconv.Itoa(int(rec.Flags)),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		if err := it.Close(); err != nil {
			return err
		}
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
