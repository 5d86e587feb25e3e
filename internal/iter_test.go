package internal

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcat2(t *testing.T) {
	assert := assert.New(t)

	a := map[string]int{"a": 1}
	b := map[string]int{"b": 2}

	got := maps.Collect(Concat2(maps.All(a), maps.All(b)))
	assert.Equal(map[string]int{"a": 1, "b": 2}, got)
}

func TestSorted2(t *testing.T) {
	assert := assert.New(t)

	a := map[string]int{"z": 1, "m": 2}
	b := map[string]int{"a": 3, "z": 4}

	var keys []string
	var values []int
	for key, value := range Sorted2(Concat2(maps.All(a), maps.All(b))) {
		keys = append(keys, key)
		values = append(values, value)
	}
	assert.Equal([]string{"a", "m", "z"}, keys)
	assert.Equal([]int{3, 2, 4}, values)
}
