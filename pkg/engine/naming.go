package engine

import (
	"strconv"
	"strings"
)

// NormalizeName lower-cases a play name and replaces spaces with underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// ChildName returns the name prefix of the i-th child of a composite node.
// Sequential children append "_s<i>", parallel children append "_p<i>".
func ChildName(parent string, kind NodeKind, i int) string {
	switch kind {
	case KindSequential:
		return parent + "_s" + strconv.Itoa(i)
	case KindParallel:
		return parent + "_p" + strconv.Itoa(i)
	default:
		return parent
	}
}

// LeafName returns the artifact name of a leaf reached with prefix.
func LeafName(prefix, playName string) string {
	return prefix + "_" + NormalizeName(playName)
}
