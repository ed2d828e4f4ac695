package stats_test

import (
	"encoding/binary"
	"math/big"
	"math/rand/v2"
	"testing"
	"time"

	"rtnet/pkg/stats"

	"github.com/stretchr/testify/assert"
)

func core(t *testing.T, offset int64, samples []byte) {
	const maxSamples = 1e6
	n := int64(len(samples))

	if n < 2 || n > maxSamples {
		return
	}

	s := stats.New[int64](maxSamples, 0) // spread is not used here since we always have a number of samples <= maxSamples

	tr := new(big.Rat)
	ti := new(big.Int)

	sum := new(big.Int)
	lo, hi := int64(samples[0])+offset, int64(samples[0])+offset
	for _, b := range samples {
		sample := int64(b) + offset
		sum.Add(sum, ti.SetInt64(sample))
		lo, hi = min(lo, sample), max(hi, sample)
		assert.True(t, s.SampleIn(sample))
	}

	avg := new(big.Rat)
	avg.SetFrac(sum, ti.SetInt64(n))

	sumSqDev := new(big.Rat)
	for _, b := range samples {
		sample := int64(b) + offset
		sumSqDev.Add(sumSqDev, tr.SetInt64(sample).Sub(tr, avg).Mul(tr, tr))
	}
	tr.Quo(sumSqDev, tr.SetInt64(n-1))
	stdDevI := ti.Div(tr.Num(), tr.Denom()).Sqrt(ti).Int64()
	avgI := ti.Div(avg.Num(), avg.Denom()).Int64()

	assert.Equal(t, avgI, s.Mean())
	assert.Equal(t, stdDevI, s.StdDev())
	assert.Equal(t, lo, s.Min())
	assert.Equal(t, hi, s.Max())
	assert.Equal(t, int(n), s.Total())
}

func Fuzz_Core(f *testing.F) {
	for _, i := range []int64{-255, -127, 0, 127} {
		buf := make([]byte, 4)
		binary.NativeEndian.PutUint32(buf, rand.Uint32())
		f.Add(i, buf)
	}
	f.Fuzz(core)
}

func TestSpreadRejectsOutliers(t *testing.T) {
	s := stats.New[int64](4, 1)
	for _, x := range []int64{10, 12, 10, 12} {
		assert.True(t, s.SampleIn(x))
	}
	assert.False(t, s.SampleIn(1000))
	assert.True(t, s.SampleIn(11))
	assert.Equal(t, 4, s.SampleCount())
	assert.Equal(t, 5, s.Total())
	assert.Equal(t, int64(12), s.Max())
}

func TestSummarize(t *testing.T) {
	sum := stats.Summarize([]time.Duration{3 * time.Microsecond, time.Microsecond, 2 * time.Microsecond})
	assert.Equal(t, stats.Summary[time.Duration]{
		Count:  3,
		Min:    time.Microsecond,
		Avg:    2 * time.Microsecond,
		Max:    3 * time.Microsecond,
		StdDev: time.Microsecond,
	}, sum)

	jitter := stats.Summarize([]int64{-50, 10, 40})
	assert.Equal(t, int64(-50), jitter.Min)
	assert.Equal(t, int64(0), jitter.Avg)
	assert.Equal(t, int64(40), jitter.Max)

	assert.Zero(t, stats.Summarize[int64](nil))
}
