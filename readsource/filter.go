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
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varlens/filterexpr"
)

// ReadFields declares the alignment attributes read filters may
// reference.
var ReadFields = filterexpr.FieldSet{
	"query_name":       filterexpr.String,
	"mapping_quality":  filterexpr.Int,
	"reference_start":  filterexpr.Int,
	"reference_end":    filterexpr.Int,
	"template_length":  filterexpr.Int,
	"is_duplicate":     filterexpr.Bool,
	"is_read1":         filterexpr.Bool,
	"is_read2":         filterexpr.Bool,
	"is_reverse":       filterexpr.Bool,
	"is_secondary":     filterexpr.Bool,
	"is_supplementary": filterexpr.Bool,
	"is_unmapped":      filterexpr.Bool,
	"is_paired":        filterexpr.Bool,
}

// CompileFilter compiles a filter expression over ReadFields into a
// record predicate.  Example: "mapping_quality >= 30 and not
// is_duplicate".
func CompileFilter(text string) (Predicate, error) {
	expr, err := filterexpr.Compile(text, ReadFields)
	if err != nil {
		return nil, err
	}
	return func(rec *sam.Record) bool {
		return expr.Eval(func(field string) filterexpr.Value {
			return readBinding(rec, field)
		})
	}, nil
}

func readBinding(rec *sam.Record, field string) filterexpr.Value {
	switch field {
	case "query_name":
		return filterexpr.StringValue(rec.Name)
	case "mapping_quality":
		return filterexpr.IntValue(int64(rec.MapQ))
	case "reference_start":
		return filterexpr.IntValue(int64(rec.Pos))
	case "reference_end":
		return filterexpr.IntValue(int64(rec.End()))
	case "template_length":
		return filterexpr.IntValue(int64(rec.TempLen))
	case "is_duplicate":
		return filterexpr.BoolValue(rec.Flags&sam.Duplicate != 0)
	case "is_read1":
		return filterexpr.BoolValue(rec.Flags&sam.Read1 != 0)
	case "is_read2":
		return filterexpr.BoolValue(rec.Flags&sam.Read2 != 0)
	case "is_reverse":
		return filterexpr.BoolValue(rec.Flags&sam.Reverse != 0)
	case "is_secondary":
		return filterexpr.BoolValue(rec.Flags&sam.Secondary != 0)
	case "is_supplementary":
		return filterexpr.BoolValue(rec.Flags&sam.Supplementary != 0)
	case "is_unmapped":
		return filterexpr.BoolValue(rec.Flags&sam.Unmapped != 0)
	case "is_paired":
		return filterexpr.BoolValue(rec.Flags&sam.Paired != 0)
	}
	panic("readsource: unknown field " + field)
}
