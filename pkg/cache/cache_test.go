// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBasics(t *testing.T) {
	c := New(123)

	v1 := c.Get("foo", func() (interface{}, time.Duration, int) {
		return "bar", time.Second, 0
	})
	require.Equal(t, "bar", v1)

	v2 := c.Get("foo", func() (interface{}, time.Duration, int) {
		t.Error("value should be cached")
		return "", 0, 0
	})
	require.Equal(t, "bar", v2)

	require.True(t, c.Del("foo"))

	v3 := c.Get("foo", func() (interface{}, time.Duration, int) {
		return "baz", time.Second, 0
	})
	require.Equal(t, "baz", v3)

	c.Keys(func(key string, value interface{}) {
		require.Equal(t, "foo", key)
		require.Equal(t, "baz", value)
	})
}

func TestExpiration(t *testing.T) {
	c := New(123)

	failIfCalled := func() (interface{}, time.Duration, int) {
		t.Error("value should still be cached")
		return "", 0, 0
	}

	val1 := c.Get("foo", func() (interface{}, time.Duration, int) { return "bar", 5 * time.Millisecond, 0 })
	val2 := c.Get("bar", func() (interface{}, time.Duration, int) { return "foo", 20 * time.Millisecond, 0 })
	require.Equal(t, "bar", val1)
	require.Equal(t, "foo", val2)

	require.Equal(t, "bar", c.Get("foo", failIfCalled))
	require.Equal(t, "foo", c.Get("bar", failIfCalled))

	time.Sleep(10 * time.Millisecond)

	val5 := c.Get("foo", func() (interface{}, time.Duration, int) { return "baz", 0, 0 })
	val6 := c.Get("bar", failIfCalled)
	require.Equal(t, "baz", val5)
	require.Equal(t, "foo", val6)

	seen := map[string]interface{}{}
	c.Keys(func(key string, val interface{}) { seen[key] = val })
	require.Equal(t, map[string]interface{}{"bar": "foo"}, seen)

	time.Sleep(15 * time.Millisecond)
	c.Keys(func(key string, val interface{}) { t.Errorf("cache should be empty, found %q", key) })
}

func TestEviction(t *testing.T) {
	c := New(100)
	failIfCalled := func() (interface{}, time.Duration, int) {
		t.Error("value should still be cached")
		return "", 0, 0
	}

	v1 := c.Get("foo", func() (interface{}, time.Duration, int) { return "bar", time.Second, 1000 })
	v2 := c.Get("foo", func() (interface{}, time.Duration, int) { return "baz", time.Second, 1000 })
	require.Equal(t, "bar", v1)
	require.Equal(t, "baz", v2)

	c.Keys(func(key string, val interface{}) { t.Errorf("cache should be empty, found %q", key) })

	_ = c.Get("A", func() (interface{}, time.Duration, int) { return "a", time.Second, 50 })
	_ = c.Get("B", func() (interface{}, time.Duration, int) { return "b", time.Second, 50 })
	_ = c.Get("A", failIfCalled)
	_ = c.Get("B", failIfCalled)
	_ = c.Get("C", func() (interface{}, time.Duration, int) { return "c", time.Second, 50 })
	_ = c.Get("B", failIfCalled)
	_ = c.Get("C", failIfCalled)

	v4 := c.Get("A", func() (interface{}, time.Duration, int) { return "evicted", time.Second, 25 })
	require.Equal(t, "evicted", v4)

	c.Keys(func(key string, val interface{}) {
		require.Contains(t, []string{"A", "C"}, key)
	})
}

func TestConcurrentGetSerializesComputation(t *testing.T) {
	c := New(100)
	var wg sync.WaitGroup

	const numActions, numThreads = 2000, 4
	wg.Add(numThreads)

	var inFlight int32
	for i := 0; i < numThreads; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numActions; j++ {
				_ = c.Get("key", func() (interface{}, time.Duration, int) {
					m := atomic.AddInt32(&inFlight, 1)
					require.Equal(t, int32(1), m, "only one goroutine should compute a given key at a time")
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inFlight, -1)
					return "value", 3 * time.Millisecond, 1
				})
			}
		}()
	}

	wg.Wait()
	c.Keys(func(key string, val interface{}) {})
}

func TestGetRecoversFromPanicInComputeValue(t *testing.T) {
	c := New(100)
	c.Put("bar", "baz", 3, time.Minute)

	panics := func() {
		defer func() {
			r := recover()
			require.Equal(t, "oops", r)
		}()
		_ = c.Get("foo", func() (value interface{}, ttl time.Duration, size int) {
			panic("oops")
		})
		t.Fatal("should have panicked")
	}
	panics()

	v := c.Get("bar", func() (value interface{}, ttl time.Duration, size int) {
		t.Fatal("should not be called, bar is still cached")
		return nil, 0, 0
	})
	require.Equal(t, "baz", v)

	panics()
}
