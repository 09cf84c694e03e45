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

import "github.com/grailbio/varlens/filterexpr"

// VariantFields declares the attributes variant filters may reference.
var VariantFields = filterexpr.FieldSet{
	"genome":          filterexpr.String,
	"contig":          filterexpr.String,
	"interbase_start": filterexpr.Int,
	"interbase_end":   filterexpr.Int,
	"inclusive_start": filterexpr.Int,
	"inclusive_end":   filterexpr.Int,
	"ref":             filterexpr.String,
	"alt":             filterexpr.String,
}

// CompileFilter compiles a filter expression over VariantFields into a
// variant predicate.  Example: "contig == '22' and ref == 'A'".
func CompileFilter(text string) (func(Variant) bool, error) {
	expr, err := filterexpr.Compile(text, VariantFields)
	if err != nil {
		return nil, err
	}
	return func(v Variant) bool {
		return expr.Eval(func(field string) filterexpr.Value {
			return variantBinding(v, field)
		})
	}, nil
}

func variantBinding(v Variant, field string) filterexpr.Value {
	switch field {
	case "genome":
		return filterexpr.StringValue(v.Genome)
	case "contig":
		return filterexpr.StringValue(v.Contig)
	case "interbase_start":
		return filterexpr.IntValue(int64(v.InterbaseStart))
	case "interbase_end":
		return filterexpr.IntValue(int64(v.InterbaseEnd))
	case "inclusive_start":
		return filterexpr.IntValue(int64(v.Locus().InclusiveStart()))
	case "inclusive_end":
		return filterexpr.IntValue(int64(v.Locus().InclusiveEnd()))
	case "ref":
		return filterexpr.StringValue(v.Ref)
	case "alt":
		return filterexpr.StringValue(v.Alt)
	}
	panic("variant: unknown field " + field)
}
