package depth

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the finite values of a depth grid.
type Stats struct {
	Min       float64
	Max       float64
	Mean      float64
	StdDev    float64
	NonFinite int
}

func Summarize(g Grid) Stats {
	vals := make([]float64, 0, len(g.Data))
	nonFinite := 0
	for _, v := range g.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			nonFinite++
			continue
		}
		vals = append(vals, f)
	}
	s := Stats{NonFinite: nonFinite}
	if len(vals) == 0 {
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	if len(vals) == 1 {
		s.Mean = vals[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	return s
}
