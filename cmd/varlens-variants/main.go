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
varlens-variants loads, merges, filters and exports variants from one or
more VCF inputs as a CSV table.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varlens/cmdutil"
	"github.com/grailbio/varlens/variant"
)

var (
	variantFlags  cmdutil.StringsFlag
	variantFilter = flag.String("variant-filter", "", "Filter expression applied to variants, e.g. \"contig == '22' and ref != alt\"")
	genome        = flag.String("genome", "", "Reference build of the variant inputs, e.g. b37")
	outPath       = flag.String("out", "", "Output CSV path; default stdout")
)

func init() {
	flag.Var(&variantFlags, "variants", "VCF input; repeatable, URL-fragment options allowed (e.g. calls.vcf#only_passing=false to keep failing calls)")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -variants calls.vcf [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

type variantRow struct {
	Genome         string `csv:"genome"`
	Contig         string `csv:"contig"`
	InterbaseStart int    `csv:"interbase_start"`
	InterbaseEnd   int    `csv:"interbase_end"`
	Ref            string `csv:"ref"`
	Alt            string `csv:"alt"`
	Sources        string `csv:"sources"`
}

func run() error {
	collection, err := cmdutil.LoadVariants(variantFlags, *genome)
	if err != nil {
		return err
	}
	if *variantFilter != "" {
		pred, err := variant.CompileFilter(*variantFilter)
		if err != nil {
			return err
		}
		collection = collection.Filter(pred)
	}

	rows := make([]*variantRow, 0, len(collection.Variants))
	for _, v := range collection.Variants {
		rows = append(rows, &variantRow{
			Genome:         v.Genome,
			Contig:         v.Contig,
			InterbaseStart: v.InterbaseStart,
			InterbaseEnd:   v.InterbaseEnd,
			Ref:            v.Ref,
			Alt:            v.Alt,
			Sources:        strings.Join(collection.Sources[v], " "),
		})
	}

	out, err := cmdutil.Output(*outPath)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(&rows, out); err != nil {
		return err
	}
	return out.Close()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if len(variantFlags) == 0 {
		log.Fatalf("at least one -variants input is required")
	}
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}
