// Package testing provides concurrency test helpers.
//
// t.Fatal and t.FailNow must not be called from goroutines: they invoke
// runtime.Goexit, which terminates only the calling goroutine and leaves
// the test hanging. Helpers here collect errors over a channel and
// report them from the test goroutine instead.
package testing

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// Group runs test goroutines and collects their errors.
//
//	g := testing.NewGroup(t)
//	g.Go(func() error { return writer.Run() })
//	g.Go(func() error { return reader.Run() })
//	g.Wait()
type Group struct {
	t    *testing.T
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewGroup creates a goroutine group bound to t.
func NewGroup(t *testing.T) *Group {
	t.Helper()
	return &Group{t: t}
}

// Go runs fn in a goroutine; a non-nil return is recorded as a test
// error at Wait.
func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

// Wait blocks until all goroutines finish and reports collected errors.
func (g *Group) Wait() {
	g.t.Helper()
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, err := range g.errs {
		g.t.Error(err)
	}
}

// Eventually polls cond every interval until it returns true or the
// deadline passes, then fails the test with msg.
func Eventually(t *testing.T, timeout, interval time.Duration, cond func() bool, msg string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(interval)
	}
	t.Fatalf("condition not met within %v: %s", timeout, fmt.Sprintf(msg, args...))
}
