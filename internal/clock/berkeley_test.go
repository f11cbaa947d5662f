package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhysicalOffsetAdjustIsAdditive(t *testing.T) {
	var p Physical
	p.SetOffset(2 * time.Second)
	p.Adjust(-500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, p.Offset())
}

func TestBerkeleyPlanConvergesTowardMean(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	leaderTime := base.Add(2 * time.Second)
	samples := []Sample{
		{NodeID: 2, Time: base.Add(-1 * time.Second)},
		{NodeID: 3, Time: base},
	}

	deltas := BerkeleyPlan(1, leaderTime, samples)
	require := assert.New(t)
	require.Len(deltas, 3)

	// mean of {+2, -1, 0} = +1/3s
	avg := base.Add(time.Second / 3)
	require.Equal(avg.Sub(leaderTime), deltas[1])
	require.Equal(avg.Sub(samples[0].Time), deltas[2])
	require.Equal(avg.Sub(samples[1].Time), deltas[3])
}

func TestBerkeleyPlanSkipsDeadPeers(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	deltas := BerkeleyPlan(1, base, nil)
	assert.Len(t, deltas, 1)
	assert.Equal(t, time.Duration(0), deltas[1])
}
