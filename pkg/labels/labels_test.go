package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMapSorted(t *testing.T) {
	l := FromMap(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, Labels{{"a", "1"}, {"b", "2"}}, l)
}

func TestGet(t *testing.T) {
	l := FromMap(map[string]string{"host": "node1", "__name__": "cpu_load"})
	v, ok := l.Get("host")
	assert.True(t, ok)
	assert.Equal(t, "node1", v)

	name, ok := l.MetricName()
	assert.True(t, ok)
	assert.Equal(t, "cpu_load", name)

	_, ok = l.Get("missing")
	assert.False(t, ok)
}

func TestHashStable(t *testing.T) {
	a := FromMap(map[string]string{"a": "1", "b": "2"})
	b := FromMap(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a.Hash(), b.Hash())

	c := FromMap(map[string]string{"a": "1", "b": "3"})
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestEqual(t *testing.T) {
	a := FromMap(map[string]string{"a": "1"})
	b := FromMap(map[string]string{"a": "1"})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(FromMap(map[string]string{"a": "2"})))
}

func TestString(t *testing.T) {
	l := FromMap(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, `{a="1",b="2"}`, l.String())
}
