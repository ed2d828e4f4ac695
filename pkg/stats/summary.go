package stats

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Summary is the min/avg/max reduction of a sample set.
type Summary[T constraints.Signed] struct {
	Count  int
	Min    T
	Avg    T
	Max    T
	StdDev T
}

// Summarize reduces xs without rejecting any sample.
func Summarize[T constraints.Signed](xs []T) Summary[T] {
	s := New[T](len(xs), 0)
	for _, x := range xs {
		s.SampleIn(x)
	}
	return s.Summary()
}

func (s *Stats[T]) Summary() Summary[T] {
	return Summary[T]{
		Count:  s.Total(),
		Min:    s.Min(),
		Avg:    s.Mean(),
		Max:    s.Max(),
		StdDev: s.StdDev(),
	}
}

func (s Summary[T]) String() string {
	return fmt.Sprintf("n=%d min=%v avg=%v max=%v stddev=%v", s.Count, s.Min, s.Avg, s.Max, s.StdDev)
}
