package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// StartSingleAcceptServer accepts one loopback connection and runs handler on
// it. The connection inherits ctx's deadline, and is closed when handler
// returns or ctx ends. The returned stop closes the listener and waits for
// handler; it is also registered as a test cleanup, so calling it is only
// needed to sequence a test.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		if d, ok := ctx.Deadline(); ok {
			_ = c.SetDeadline(d)
		}
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
		handler(c)
	})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = ln.Close()
			wg.Wait()
		})
	}
	t.Cleanup(stop)

	return ln, stop
}
