package joiner

import (
	"strings"
)

type JoinType uint32

const (
	JT_INNER JoinType = 1 << iota
	// unmatched large rows are kept with a null small row
	JT_LARGEOUTER
	// unmatched small rows are emitted after the large side is done
	JT_SMALLOUTER
	JT_SEMI
	JT_ANTI
	// more than one match is an error
	JT_SCALAR
	// null keys compare equal
	JT_MATCHNULLS
	// a residual filter is set
	JT_WITHFCNEXP
)

func (jt JoinType) Has(flag JoinType) bool {
	return jt&flag != 0
}

func (jt JoinType) String() string {
	names := []string{}
	flags := []struct {
		f    JoinType
		name string
	}{
		{JT_INNER, "inner"},
		{JT_LARGEOUTER, "large_outer"},
		{JT_SMALLOUTER, "small_outer"},
		{JT_SEMI, "semi"},
		{JT_ANTI, "anti"},
		{JT_SCALAR, "scalar"},
		{JT_MATCHNULLS, "match_nulls"},
		{JT_WITHFCNEXP, "with_filter"},
	}
	for _, f := range flags {
		if jt.Has(f.f) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// OutputsSmallSide reports the joined row carries the small columns.
func (jt JoinType) OutputsSmallSide() bool {
	return !jt.Has(JT_SEMI) && !jt.Has(JT_ANTI)
}
