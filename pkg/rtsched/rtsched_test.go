package rtsched_test

import (
	"runtime"
	"testing"

	"rtnet/pkg/rtsched"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]rtsched.Policy{
		"fifo":   rtsched.FIFO,
		"FIFO":   rtsched.FIFO,
		"rr":     rtsched.RR,
		"other":  rtsched.Other,
		"normal": rtsched.Other,
	} {
		got, err := rtsched.ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := rtsched.ParsePolicy("deadline")
	assert.ErrorIs(t, err, rtsched.ErrUnknownPolicy)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, rtsched.Params{Policy: rtsched.FIFO, Priority: 99}.Validate())
	assert.NoError(t, rtsched.Params{Policy: rtsched.RR, Priority: 1}.Validate())
	assert.NoError(t, rtsched.Params{Policy: rtsched.Other}.Validate())

	assert.ErrorIs(t, rtsched.Params{Policy: rtsched.FIFO}.Validate(), rtsched.ErrPriority)
	assert.ErrorIs(t, rtsched.Params{Policy: rtsched.RR, Priority: 100}.Validate(), rtsched.ErrPriority)
	assert.ErrorIs(t, rtsched.Params{Policy: rtsched.Other, Priority: 5}.Validate(), rtsched.ErrPriority)
	assert.ErrorIs(t, rtsched.Params{Policy: 42}.Validate(), rtsched.ErrUnknownPolicy)
}

func TestParseCPUs(t *testing.T) {
	cpus, err := rtsched.ParseCPUs("3, 0-1,1,5-5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 5}, cpus)

	cpus, err = rtsched.ParseCPUs("")
	require.NoError(t, err)
	assert.Empty(t, cpus)

	for _, bad := range []string{"a", "1-", "3-1", "-1", "99999", "1,,2"} {
		_, err := rtsched.ParseCPUs(bad)
		assert.ErrorIs(t, err, rtsched.ErrCPUList, bad)
	}
}

func TestApplyDefaultPolicy(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cur, err := rtsched.Current()
	if err != nil {
		t.Skip(err)
	}
	if cur.Policy != rtsched.Other {
		t.Skipf("test thread runs with %s", cur)
	}
	require.NoError(t, rtsched.Apply(rtsched.Params{Policy: rtsched.Other}))
	assert.ErrorIs(t, rtsched.Apply(rtsched.Params{Policy: rtsched.FIFO, Priority: 0}), rtsched.ErrPriority)
}

func TestAffinityRoundTrip(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpus, err := rtsched.Affinity()
	if err != nil {
		t.Skip(err)
	}
	require.NotEmpty(t, cpus)
	require.NoError(t, rtsched.SetAffinity(cpus))
	require.NoError(t, rtsched.SetAffinity(nil))

	got, err := rtsched.Affinity()
	require.NoError(t, err)
	assert.Equal(t, cpus, got)
}
