package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinPickerDistributesEvenly(t *testing.T) {
	instances := []ServiceInstance{
		{Addr: "a:1"},
		{Addr: "b:2"},
		{Addr: "c:3"},
	}

	p := &RoundRobinPicker{}
	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		inst, err := p.Pick(instances)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	assert.Equal(t, 100, counts["a:1"])
	assert.Equal(t, 100, counts["b:2"])
	assert.Equal(t, 100, counts["c:3"])
}

func TestRoundRobinPickerEmpty(t *testing.T) {
	p := &RoundRobinPicker{}
	_, err := p.Pick(nil)
	assert.Error(t, err)
}

func TestWeightedRandomPickerRespectsWeights(t *testing.T) {
	instances := []ServiceInstance{
		{Addr: "heavy:1", Weight: 99},
		{Addr: "light:1", Weight: 1},
	}

	p := &WeightedRandomPicker{}
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		inst, err := p.Pick(instances)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	assert.Greater(t, counts["heavy:1"], counts["light:1"])
}

func TestWeightedRandomPickerZeroWeights(t *testing.T) {
	instances := []ServiceInstance{
		{Addr: "a:1"},
		{Addr: "b:2"},
	}

	p := &WeightedRandomPicker{}
	for i := 0; i < 10; i++ {
		inst, err := p.Pick(instances)
		require.NoError(t, err)
		assert.Contains(t, []string{"a:1", "b:2"}, inst.Addr)
	}
}
