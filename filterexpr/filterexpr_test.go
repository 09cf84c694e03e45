package filterexpr_test

import (
	"testing"

	"github.com/grailbio/varlens/filterexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFields = filterexpr.FieldSet{
	"mapping_quality": filterexpr.Int,
	"is_duplicate":    filterexpr.Bool,
	"is_read1":        filterexpr.Bool,
	"query_name":      filterexpr.String,
}

type record struct {
	mapq      int64
	duplicate bool
	read1     bool
	name      string
}

func (r record) bindings(field string) filterexpr.Value {
	switch field {
	case "mapping_quality":
		return filterexpr.IntValue(r.mapq)
	case "is_duplicate":
		return filterexpr.BoolValue(r.duplicate)
	case "is_read1":
		return filterexpr.BoolValue(r.read1)
	case "query_name":
		return filterexpr.StringValue(r.name)
	}
	panic("unexpected field " + field)
}

func TestCompileAndEval(t *testing.T) {
	rec := record{mapq: 37, duplicate: false, read1: true, name: "read001"}
	tests := []struct {
		expr string
		want bool
	}{
		{"mapping_quality >= 30", true},
		{"mapping_quality < 30", false},
		{"not is_duplicate", true},
		{"is_duplicate", false},
		{"is_read1 and not is_duplicate", true},
		{"is_duplicate or mapping_quality == 37", true},
		{"query_name == 'read001'", true},
		{"query_name != \"read001\"", false},
		{"query_name < 'read002'", true},
		{"(is_duplicate or is_read1) and mapping_quality > 0", true},
		{"is_read1 == true", true},
		{"is_read1 == false", false},
		{"mapping_quality == -1", false},
	}
	for _, tt := range tests {
		expr, err := filterexpr.Compile(tt.expr, testFields)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, expr.Eval(rec.bindings), tt.expr)
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		"",
		"unknown_field",
		"mapping_quality",             // bare int is not a predicate
		"mapping_quality == 'x'",      // type mismatch
		"is_duplicate < true",         // bool ordering undefined
		"mapping_quality >= 30 and",   // dangling operator
		"(is_read1",                   // missing paren
		"query_name == 'unterminated", // unterminated string
		"mapping_quality = 30",        // single '='
		"is_read1 extra",              // trailing junk
		"import os",                   // no general evaluation
	}
	for _, expr := range bad {
		_, err := filterexpr.Compile(expr, testFields)
		assert.Error(t, err, expr)
	}
}

func TestSplitLabeled(t *testing.T) {
	label, expr := filterexpr.SplitLabeled("fwd:not is_reverse")
	assert.Equal(t, "fwd", label)
	assert.Equal(t, "not is_reverse", expr)

	label, expr = filterexpr.SplitLabeled("is_duplicate")
	assert.Equal(t, "is_duplicate", label)
	assert.Equal(t, "is_duplicate", expr)

	// Label must be word characters; otherwise the whole argument is the
	// expression.
	label, expr = filterexpr.SplitLabeled("query_name == 'a:b'")
	assert.Equal(t, "query_name == 'a:b'", label)
	assert.Equal(t, expr, label)
}
