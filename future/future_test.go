package future

import (
	"errors"
	"sync"
	"testing"
)

func TestOneShotSingleSetWins(t *testing.T) {
	o := NewOneShot()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			o.Set(n)
		}(i)
	}
	wg.Wait()
	v, err := o.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Every subsequent Wait must observe the very same value.
	v2, _ := o.Wait()
	if v2 != v {
		t.Fatalf("second Wait saw %v, first saw %v", v2, v)
	}
}

func TestOneShotErrWinsOverLateSet(t *testing.T) {
	o := NewOneShot()
	o.SetErr(errors.New("closing"))
	o.Set("too late")
	_, err := o.Wait()
	if err == nil || err.Error() != "closing" {
		t.Fatalf("expected closing error to win, got %v", err)
	}
}

func TestOneShotConcurrentWaitersSeeSameOutcome(t *testing.T) {
	o := NewOneShot()
	results := make(chan interface{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			v, _ := o.Wait()
			results <- v
		}()
	}
	o.Set(42)
	for i := 0; i < 4; i++ {
		if v := <-results; v != 42 {
			t.Fatalf("waiter saw %v, want 42", v)
		}
	}
}

type countingListener struct{ n int }

func (c *countingListener) Event(name string, data interface{}) { c.n++ }

type panickingListener struct{}

func (panickingListener) Event(name string, data interface{}) { panic("boom") }

func TestProxyFireSwallowsListenerPanic(t *testing.T) {
	p := NewProxy()
	cl := &countingListener{}
	p.Add(panickingListener{})
	p.Add(cl)
	p.Fire("test", nil)
	if cl.n != 1 {
		t.Fatalf("expected surviving listener to still be called once, got %d", cl.n)
	}
}

func TestProxyRejectsAddAfterClose(t *testing.T) {
	p := NewProxy()
	p.Close()
	if p.Add(&countingListener{}) {
		t.Fatal("expected Add to fail after Close")
	}
}
