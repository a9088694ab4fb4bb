package subscription

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCancelIsIdempotent(t *testing.T) {
	r := NewRegistry()

	calls := 0
	r.Add("port-a", "1", func() { calls++ })

	if !r.Cancel("port-a", "1") {
		t.Error("first cancel should report true")
	}
	if r.Cancel("port-a", "1") {
		t.Error("second cancel should report false")
	}
	if calls != 1 {
		t.Errorf("unsubscribe calls = %d, want 1", calls)
	}
	if r.Has("port-a", "1") {
		t.Error("id still registered after cancel")
	}
}

func TestCancelUnknownID(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("port-a", "missing") {
		t.Error("cancel of unknown id should report false")
	}
}

func TestCancelAfterDisconnect(t *testing.T) {
	r := NewRegistry()

	var a, b, other int
	r.Add("port-a", "1", func() { a++ })
	r.Add("port-a", "2", func() { b++ })
	r.Add("port-b", "3", func() { other++ })

	if n := r.CancelPort("port-a"); n != 2 {
		t.Errorf("CancelPort cancelled %d, want 2", n)
	}
	// Explicit cancel racing the disconnect.
	r.Cancel("port-a", "1")
	r.CancelPort("port-a")

	if a != 1 || b != 1 {
		t.Errorf("unsubscribe counts a=%d b=%d, want 1 each", a, b)
	}
	if other != 0 {
		t.Error("subscription of another port was cancelled")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestSameIDOnDifferentPorts(t *testing.T) {
	r := NewRegistry()

	var a, b int
	r.Add("port-a", "1", func() { a++ })
	r.Add("port-b", "1", func() { b++ })

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if !r.Cancel("port-b", "1") {
		t.Error("cancel on port-b reported false")
	}
	if a != 0 || b != 1 {
		t.Errorf("unsubscribe counts a=%d b=%d, want 0 and 1", a, b)
	}
	if !r.Has("port-a", "1") {
		t.Error("port-a lost its subscription")
	}
}

func TestAddReplacesExistingID(t *testing.T) {
	r := NewRegistry()

	first, second := 0, 0
	r.Add("port-a", "1", func() { first++ })
	r.Add("port-a", "1", func() { second++ })

	if first != 1 {
		t.Errorf("replaced subscription should be torn down once, got %d", first)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if n := r.CancelPort("port-a"); n != 1 || second != 1 {
		t.Errorf("port-a cancel n=%d second=%d", n, second)
	}
}

func TestStaleCancelLeavesReusedID(t *testing.T) {
	r := NewRegistry()

	first, second := 0, 0
	done := r.Add("port-a", "tx", func() { first++ })
	r.Cancel("port-a", "tx")
	r.Add("port-a", "tx", func() { second++ })

	if done() {
		t.Error("stale cancel reported true")
	}
	if first != 1 || second != 0 {
		t.Errorf("unsubscribe counts first=%d second=%d", first, second)
	}
	if !r.Has("port-a", "tx") {
		t.Error("reused id was removed by the stale cancel")
	}
}

func TestAddCancelFunc(t *testing.T) {
	r := NewRegistry()

	calls := 0
	done := r.Add("p", "1", func() { calls++ })
	if !done() {
		t.Error("cancel func reported false")
	}
	if done() || r.Cancel("p", "1") {
		t.Error("repeated cancel reported true")
	}
	if calls != 1 || r.Len() != 0 {
		t.Errorf("calls=%d Len=%d", calls, r.Len())
	}
}

func TestNilUnsubscribe(t *testing.T) {
	r := NewRegistry()
	r.Add("p", "1", nil)
	if !r.Cancel("p", "1") {
		t.Error("cancel with nil unsubscribe should still succeed")
	}
}

func TestOnChange(t *testing.T) {
	r := NewRegistry()

	var last int
	r.OnChange = func(active int) { last = active }

	r.Add("p", "1", nil)
	r.Add("p", "2", nil)
	if last != 2 {
		t.Errorf("active = %d, want 2", last)
	}
	r.Cancel("p", "1")
	if last != 1 {
		t.Errorf("active = %d, want 1", last)
	}
	r.CancelPort("p")
	if last != 0 {
		t.Errorf("active = %d, want 0", last)
	}
}

func TestConcurrentCancel(t *testing.T) {
	r := NewRegistry()

	var calls atomic.Int32
	done := r.Add("p", "1", func() { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			r.Cancel("p", "1")
		}()
		go func() {
			defer wg.Done()
			r.CancelPort("p")
		}()
		go func() {
			defer wg.Done()
			done()
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("unsubscribe ran %d times, want 1", calls.Load())
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
