package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextFollowsCycle(t *testing.T) {
	cases := []struct {
		from Phase
		ok   bool
		want Phase
	}{
		{PhaseIdle, true, PhaseDiscovering},
		{PhaseIdle, false, PhaseDiscovering},
		{PhaseDiscovering, true, PhaseProbing},
		{PhaseDiscovering, false, PhaseIdle},
		{PhaseProbing, true, PhaseReporting},
		{PhaseProbing, false, PhaseReporting},
		{PhaseReporting, true, PhaseIdle},
		{PhaseReporting, false, PhaseIdle},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Next(tc.from, tc.ok), "from %s ok=%v", tc.from, tc.ok)
	}
}

func TestNextAlwaysValid(t *testing.T) {
	for p := PhaseIdle; p <= PhaseReporting; p++ {
		assert.True(t, Next(p, true).Valid())
		assert.True(t, Next(p, false).Valid())
	}
	assert.Equal(t, PhaseIdle, Next(Phase(42), true))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "discovering", PhaseDiscovering.String())
	assert.Equal(t, "probing", PhaseProbing.String())
	assert.Equal(t, "reporting", PhaseReporting.String())
	assert.Equal(t, "unknown", Phase(-1).String())
	assert.False(t, Phase(-1).Valid())
}
