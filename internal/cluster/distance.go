package cluster

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// DistanceFunc measures the dissimilarity of two equal-length vectors.
type DistanceFunc func(a, b []float64) float64

// Euclidean is the L2 distance.
func Euclidean(a, b []float64) float64 { return floats.Distance(a, b, 2) }

// Manhattan is the L1 distance.
func Manhattan(a, b []float64) float64 { return floats.Distance(a, b, 1) }

// Chebyshev is the L-infinity distance.
func Chebyshev(a, b []float64) float64 { return floats.Distance(a, b, math.Inf(1)) }

// DistanceByName resolves a configured metric name. Empty selects Euclidean.
func DistanceByName(name string) (DistanceFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euclidean", "l2":
		return Euclidean, nil
	case "manhattan", "l1":
		return Manhattan, nil
	case "chebyshev", "max", "linf":
		return Chebyshev, nil
	default:
		return nil, fmt.Errorf("unknown distance %q", name)
	}
}

// Linkage selects how the distance between two clusters is derived from the
// distances between their members.
type Linkage int

const (
	AverageLinkage Linkage = iota
	SingleLinkage
	CompleteLinkage
)

func (l Linkage) String() string {
	switch l {
	case AverageLinkage:
		return "average"
	case SingleLinkage:
		return "single"
	case CompleteLinkage:
		return "complete"
	default:
		return fmt.Sprintf("Linkage(%d)", int(l))
	}
}

// LinkageByName resolves a configured linkage name. Empty selects average.
func LinkageByName(name string) (Linkage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "average", "upgma":
		return AverageLinkage, nil
	case "single":
		return SingleLinkage, nil
	case "complete":
		return CompleteLinkage, nil
	default:
		return 0, fmt.Errorf("unknown linkage %q", name)
	}
}

// combine is the Lance-Williams update for the distance between the union of
// clusters i and j (sizes ni, nj) and a third cluster k.
func (l Linkage) combine(dik, djk float64, ni, nj int) float64 {
	switch l {
	case SingleLinkage:
		return math.Min(dik, djk)
	case CompleteLinkage:
		return math.Max(dik, djk)
	default:
		return (float64(ni)*dik + float64(nj)*djk) / float64(ni+nj)
	}
}
