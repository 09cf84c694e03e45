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
varlens-variant-support joins a set of variant calls against the
read-pileup evidence of one or more BAM/SAM files, reporting per
(variant, source) the reference, alternate and other-allele depths.
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
	"github.com/grailbio/varlens/support"
)

var (
	readsFlags   cmdutil.StringsFlag
	variantFlags cmdutil.StringsFlag
	readFilter   = flag.String("read-filter", "", "Filter expression applied to reads")
	genome       = flag.String("genome", "", "Reference build of the variant inputs, e.g. b37")
	lenient      = flag.Bool("lenient", false, "Report zero depth for variants without pileup evidence instead of failing")
	outPath      = flag.String("out", "", "Output CSV path; default stdout")
)

func init() {
	flag.Var(&readsFlags, "reads", "BAM/SAM file to draw evidence from; repeatable")
	flag.Var(&variantFlags, "variants", "VCF input of variants to measure; repeatable, URL-fragment options allowed")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -variants calls.vcf -reads reads.bam [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func run() error {
	variants, err := cmdutil.LoadVariants(variantFlags, *genome)
	if err != nil {
		return err
	}
	sources, err := cmdutil.OpenSources(readsFlags, *readFilter)
	if err != nil {
		return err
	}

	// Tabulate per exact variant window: the join below looks rows up
	// by (source, contig, start, end), so the windows must not merge.
	it := support.AlleleSupportRows(variants.VariantLoci(), sources, nil)
	var rows []support.Row
	for it.Scan() {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return err
	}
	measurements, err := support.VariantSupport(variants.Variants, support.NewSupportTable(rows), *lenient)
	if err != nil {
		return err
	}

	out, err := cmdutil.Output(*outPath)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	header := []string{
		"source", "contig", "interbase_start", "interbase_end", "ref", "alt",
		"num_ref", "num_alt", "num_other", "total_depth", "alt_fraction", "any_alt_fraction",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, m := range measurements {
		v := m.Variant
		record := []string{
			m.Source,
			v.Contig,
			strconv.Itoa(v.InterbaseStart),
			strconv.Itoa(v.InterbaseEnd),
			v.Ref,
			v.Alt,
			strconv.Itoa(m.NumRef),
			strconv.Itoa(m.NumAlt),
			strconv.Itoa(m.NumOther),
			strconv.Itoa(m.TotalDepth),
			strconv.FormatFloat(m.AltFraction, 'g', -1, 64),
			strconv.FormatFloat(m.AnyAltFraction, 'g', -1, 64),
		}
		if err := w.Write(record); err != nil {
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

	if len(variantFlags) == 0 || len(readsFlags) == 0 {
		log.Fatalf("-variants and -reads are both required")
	}
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}
