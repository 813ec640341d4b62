package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testItem struct {
	ID   int
	Name string
}

func TestRing_New(t *testing.T) {
	r := New[testItem](4)
	if r.Len() != 0 {
		t.Errorf("expected length 0, got %d", r.Len())
	}
	if r.Cap() != 4 {
		t.Errorf("expected capacity 4, got %d", r.Cap())
	}
	if New[int](0).Cap() != 1 {
		t.Error("expected capacity to be clamped to 1")
	}
}

func TestRing_PushPop(t *testing.T) {
	r := New[testItem](3)

	if _, ok := r.Pop(); ok {
		t.Fatal("Pop on empty ring reported an item")
	}

	assert.Equal(t, 0, r.Push(testItem{ID: 1, Name: "first"}, testItem{ID: 2, Name: "second"}))
	first, ok := r.Pop()
	assert.True(t, ok)
	assert.Equal(t, testItem{ID: 1, Name: "first"}, first)
	assert.Equal(t, 1, r.Len())
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3)

	assert.Equal(t, 0, r.Push(1, 2, 3))
	assert.Equal(t, 2, r.Push(4, 5))
	assert.Equal(t, 3, r.Len())
	assert.EqualValues(t, 2, r.Evicted())
	assert.Equal(t, []int{3, 4, 5}, r.Drain())
}

func TestRing_WrapsAroundAfterPop(t *testing.T) {
	r := New[int](3)
	r.Push(1, 2, 3)
	r.Pop()
	r.Pop()
	r.Push(4, 5)

	assert.Equal(t, []int{3, 4, 5}, r.Drain())
	assert.EqualValues(t, 0, r.Evicted())
}

func TestRing_Drain(t *testing.T) {
	r := New[string](4)
	assert.Empty(t, r.Drain())

	r.Push("a", "b")
	assert.Equal(t, []string{"a", "b"}, r.Drain())
	assert.Equal(t, 0, r.Len())

	// usable after a drain
	r.Push("c")
	assert.Equal(t, []string{"c"}, r.Drain())
}

func TestRing_Concurrent(t *testing.T) {
	r := New[int](100)
	var wg sync.WaitGroup

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Push(base*1000 + i)
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 100 {
		t.Errorf("expected a full ring, got %d", r.Len())
	}
	if r.Evicted() != 400 {
		t.Errorf("expected 400 evictions, got %d", r.Evicted())
	}
}

func TestRing_ConcurrentDrain(t *testing.T) {
	r := New[int](1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Push(i)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				n := len(r.Drain())
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total += len(r.Drain())

	assert.Equal(t, 400, total)
}
