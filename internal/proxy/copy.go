package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksd/internal/session"
)

// CopyResult is what CopyBidirectional moved.
type CopyResult struct {
	// Sent is client to upstream, Received is upstream to client.
	Sent, Received int64
}

// CopyBidirectional relays bytes between client and upstream until either
// direction finishes, then closes both so the other direction unblocks. It
// also closes both when ctx is done. The returned error is the first failure
// that was not caused by that teardown.
func CopyBidirectional(ctx context.Context, client, upstream net.Conn) (CopyResult, error) {
	var res CopyResult

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		n, err := copyBuffer(upstream, client)
		res.Sent = n
		return err
	})
	g.Go(func() error {
		defer closeBoth()
		n, err := copyBuffer(client, upstream)
		res.Received = n
		return err
	})

	err := g.Wait()
	if isTeardown(err) {
		err = nil
	}
	return res, err
}

func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)
	n, err := io.CopyBuffer(dst, src, buf)
	if isTeardown(err) {
		err = nil
	}
	return n, err
}

// isTeardown reports errors that only mean the other direction closed the
// connection first.
func isTeardown(err error) bool {
	return err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, session.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
