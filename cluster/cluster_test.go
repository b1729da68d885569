package cluster

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/remote/server"
)

func TestParseHostPort(t *testing.T) {
	cases := []struct {
		tok      string
		wantHost string
		wantPort int
	}{
		{"example.com", "example.com", DefaultPort},
		{"example.com:9000", "example.com", 9000},
		{"192.168.1.5", "192.168.1.5", DefaultPort},
		{"192.168.1.5:8123", "192.168.1.5", 8123},
	}
	for _, c := range cases {
		host, port := parseHostPort(c.tok)
		if host != c.wantHost || port != c.wantPort {
			t.Errorf("parseHostPort(%q) = (%q, %d), want (%q, %d)",
				c.tok, host, port, c.wantHost, c.wantPort)
		}
	}
}

func startTestServer(t *testing.T) string {
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

func waitNodeReady(t *testing.T, n *Node) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cl := n.Client(); cl != nil && cl.IsReady() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("node never became ready")
}

func addrHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func TestAddNodeBecomesReady(t *testing.T) {
	addr := startTestServer(t)
	host, port := addrHostPort(t, addr)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := c.AddNode(ctx, host, port)
	waitNodeReady(t, n)

	if !n.Enabled() {
		t.Error("node not enabled after AddNode")
	}
	if got := c.FindByAddress(host, port); got != n {
		t.Errorf("FindByAddress = %v, want %v", got, n)
	}
}

func TestAddNodesParsesCommaList(t *testing.T) {
	addrA := startTestServer(t)
	addrB := startTestServer(t)
	hostA, portA := addrHostPort(t, addrA)
	hostB, portB := addrHostPort(t, addrB)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c.AddNodes(ctx, strings.Join([]string{
		hostA + ":" + strconv.Itoa(portA),
		hostB + ":" + strconv.Itoa(portB),
	}, ","))

	if len(c.Nodes()) != 2 {
		t.Fatalf("len(Nodes()) = %d, want 2", len(c.Nodes()))
	}
	if c.FindByAddress(hostA, portA) == nil {
		t.Error("node A not found")
	}
	if c.FindByAddress(hostB, portB) == nil {
		t.Error("node B not found")
	}
}

func TestDisableNodeClearsState(t *testing.T) {
	addr := startTestServer(t)
	host, port := addrHostPort(t, addr)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := c.AddNode(ctx, host, port)
	waitNodeReady(t, n)

	c.DisableNode(n)

	if n.Enabled() {
		t.Error("node still enabled after DisableNode")
	}
	if n.Client() != nil {
		t.Error("node still has a client after DisableNode")
	}
}

func TestRemoveNodeDrops(t *testing.T) {
	addr := startTestServer(t)
	host, port := addrHostPort(t, addr)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := c.AddNode(ctx, host, port)
	waitNodeReady(t, n)
	c.RemoveNode(n)

	if len(c.Nodes()) != 0 {
		t.Fatalf("len(Nodes()) = %d, want 0", len(c.Nodes()))
	}
	if c.FindByAddress(host, port) != nil {
		t.Error("removed node still found")
	}
}

func TestStartStopAndMergeResults(t *testing.T) {
	addr := startTestServer(t)
	host, port := addrHostPort(t, addr)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := c.AddNode(ctx, host, port)
	waitNodeReady(t, n)

	c.Start()
	if !c.isRunning() {
		t.Fatal("cluster not running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.MergeResults()
		time.Sleep(20 * time.Millisecond)
		if c.Master.Iterations() > 0 {
			break
		}
	}
	if c.Master.Iterations() == 0 {
		t.Fatal("master never accumulated iterations")
	}

	c.Stop()
	if c.isRunning() {
		t.Fatal("cluster still running after Stop")
	}
}

func TestSetMinStreamIntervalPropagates(t *testing.T) {
	addr := startTestServer(t)
	host, port := addrHostPort(t, addr)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := c.AddNode(ctx, host, port)
	waitNodeReady(t, n)

	c.SetMinStreamInterval(time.Hour)

	if got := n.Client().MinStreamInterval; got != time.Hour {
		t.Errorf("node MinStreamInterval = %v, want 1h", got)
	}

	// A node enabled after the setting was changed must pick it up too.
	addr2 := startTestServer(t)
	host2, port2 := addrHostPort(t, addr2)
	n2 := c.AddNode(ctx, host2, port2)
	waitNodeReady(t, n2)

	if got := n2.Client().MinStreamInterval; got != time.Hour {
		t.Errorf("new node MinStreamInterval = %v, want 1h", got)
	}
}

func TestShowStatusFormatsEnabledNodes(t *testing.T) {
	addr := startTestServer(t)
	host, port := addrHostPort(t, addr)

	c := New(dejong.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := c.AddNode(ctx, host, port)
	waitNodeReady(t, n)

	var buf strings.Builder
	c.ShowStatus(&buf)

	out := buf.String()
	if !strings.Contains(out, host) {
		t.Errorf("ShowStatus output %q missing host %q", out, host)
	}
	if !strings.Contains(out, "iter/s") || !strings.Contains(out, "KB/s") {
		t.Errorf("ShowStatus output %q missing expected units", out)
	}
}
