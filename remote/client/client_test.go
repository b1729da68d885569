package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/remote/server"
)

func startServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := server.New(ln.Addr().String(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.Serve(ctx, conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })

	return ln.Addr().String()
}

func waitReady(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsReady() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never became ready")
}

func newConnectedClient(t *testing.T, addr string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	c := New(host, port)
	c.RetryEnabled = false

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	waitReady(t, c)
	return c
}

func TestClientBecomesReady(t *testing.T) {
	addr := startServer(t)
	c := newConnectedClient(t, addr)
	if !c.IsReady() {
		t.Fatal("client not ready after connect")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	addr := startServer(t)
	c := newConnectedClient(t, addr)

	done := make(chan *Response, 1)
	if err := c.Command(func(resp *Response) {
		done <- resp
	}, "set_param a = 1.5"); err != nil {
		t.Fatalf("command: %v", err)
	}

	select {
	case resp := <-done:
		if resp.Code != 250 {
			t.Errorf("response code = %d, want 250", resp.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestMergeResultsAccumulatesIterations(t *testing.T) {
	addr := startServer(t)
	c := newConnectedClient(t, addr)

	if err := c.Command(nil, "calc_step"); err != nil {
		t.Fatalf("calc_step: %v", err)
	}
	// calc_step's response must be seen before calc_status would
	// report nonzero iterations from the same burst.
	time.Sleep(50 * time.Millisecond)

	dest := dejong.New(1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.MergeResults(dest)
		time.Sleep(20 * time.Millisecond)
		if dest.Iterations() > 0 {
			return
		}
	}
	t.Fatalf("iterations never merged, got %v", dest.Iterations())
}

// TestMergeResultsRespectsMinStreamInterval exercises the
// rate-limiting logic directly against a discarding writer, rather
// than a live connection, so that nothing ever answers the queued
// commands and pendingStreamRequests can be asserted on
// deterministically.
func TestMergeResultsRespectsMinStreamInterval(t *testing.T) {
	c := New("127.0.0.1", 0)
	c.MinStreamInterval = time.Hour
	c.writer = bufio.NewWriter(io.Discard)

	dest := dejong.New(1)
	c.MergeResults(dest)

	if c.pendingStreamRequests != 1 {
		t.Fatalf("pendingStreamRequests = %d, want 1 after first call", c.pendingStreamRequests)
	}

	c.MergeResults(dest)

	if c.pendingStreamRequests != 1 {
		t.Errorf("pendingStreamRequests = %d, want still 1 (rate limited)", c.pendingStreamRequests)
	}
}

func TestSendAllParamsTracksPending(t *testing.T) {
	addr := startServer(t)
	c := newConnectedClient(t, addr)

	m := dejong.New(1)
	c.SendAllParams(m.Params)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		pending := c.pendingParamChanges
		c.mu.Unlock()
		if pending == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pendingParamChanges never drained")
}
