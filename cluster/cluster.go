// Package cluster fans a local de Jong map out across a set of remote
// rendering nodes: every node gets the same parameters and start/stop
// commands, and every node's histogram stream and iteration count
// merge back into one master map. A node list can be grown manually,
// by auto-discovery, or by watching a node-list file for edits.
package cluster

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/discovery"
	"github.com/davidt/fyre/fyrelog"
	"github.com/davidt/fyre/remote/client"
)

// DefaultPort is the remote server port a bare hostname (with no
// ":port" suffix) is assumed to run on, matching FYRE_DEFAULT_PORT.
const DefaultPort = 7931

// Node is one remote rendering node: an address, whether it currently
// has a live client, and the most recent status/speed the node's
// client has reported.
type Node struct {
	Host string
	Port int

	mu          sync.Mutex
	enabled     bool
	status      string
	itersPerSec float64
	bytesPerSec float64
	client      *client.Client
	cancel      context.CancelFunc
}

// Enabled reports whether this node currently has a connecting or
// connected client.
func (n *Node) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// Status returns the node client's most recent connection status
// message, e.g. "Connecting...", "Ready", "Connection closed".
func (n *Node) Status() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Speed returns the node's most recently reported iteration and byte
// throughput.
func (n *Node) Speed() (itersPerSec, bytesPerSec float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.itersPerSec, n.bytesPerSec
}

// Client returns the node's current client, or nil if the node is
// disabled.
func (n *Node) Client() *client.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

func (n *Node) ready() (*client.Client, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil || !n.client.IsReady() {
		return nil, false
	}
	return n.client, true
}

// Cluster is a master map plus a set of remote nodes rendering the
// same parameters into it. The zero value is not usable; build one
// with New.
type Cluster struct {
	Master *dejong.Map
	Log    fyrelog.Logger

	mu                   sync.Mutex
	nodes                []*Node
	running              bool
	minStreamInterval    time.Duration
	hasMinStreamInterval bool
	discoveryCancel      context.CancelFunc
}

// New returns a Cluster driving master.
func New(master *dejong.Map) *Cluster {
	return &Cluster{Master: master}
}

// AddNode adds one node at host:port and starts connecting to it.
// ctx bounds the node's connection lifetime; canceling ctx (or calling
// RemoveNode/DisableNode) stops it.
func (c *Cluster) AddNode(ctx context.Context, host string, port int) *Node {
	n := &Node{Host: host, Port: port}

	c.mu.Lock()
	c.nodes = append(c.nodes, n)
	c.mu.Unlock()

	c.EnableNode(ctx, n)
	return n
}

// AddNodes adds a comma-separated list of host[:port] specifiers,
// matching cluster_model_add_nodes. A specifier with no ":port" gets
// DefaultPort.
func (c *Cluster) AddNodes(ctx context.Context, hosts string) {
	for _, tok := range strings.Split(hosts, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		host, port := parseHostPort(tok)
		c.AddNode(ctx, host, port)
	}
}

func parseHostPort(tok string) (host string, port int) {
	h, p, err := net.SplitHostPort(tok)
	if err != nil {
		return tok, DefaultPort
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return h, DefaultPort
	}
	return h, n
}

// FindByAddress returns the node matching host and port, or nil.
func (c *Cluster) FindByAddress(host string, port int) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.Host == host && n.Port == port {
			return n
		}
	}
	return nil
}

// Nodes returns a snapshot of the cluster's current node list.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.nodes...)
}

// EnableNode (re)connects n, replacing any client it already has. It's
// called automatically by AddNode; callers re-enable a node after
// DisableNode by calling it directly.
func (c *Cluster) EnableNode(ctx context.Context, n *Node) {
	cl := client.New(n.Host, n.Port)
	cl.Log = c.Log

	c.mu.Lock()
	if c.hasMinStreamInterval {
		cl.MinStreamInterval = c.minStreamInterval
	}
	c.mu.Unlock()

	cl.SetStatusCallback(func(msg string) {
		n.mu.Lock()
		n.status = msg
		n.mu.Unlock()

		// A node that just became ready needs to catch up: send it
		// every current de Jong parameter of the master and, if the
		// cluster is already rendering, tell it to start, matching
		// client_status_callback.
		if cl.IsReady() {
			cl.SendAllParams(c.Master.Params)
			if c.isRunning() {
				cl.Command(nil, "calc_start")
			}
		}
	})
	cl.SetSpeedCallback(func(itersPerSec, bytesPerSec int) {
		n.mu.Lock()
		n.itersPerSec = float64(itersPerSec)
		n.bytesPerSec = float64(bytesPerSec)
		n.mu.Unlock()
	})

	nodeCtx, cancel := context.WithCancel(ctx)

	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	n.client = cl
	n.enabled = true
	n.cancel = cancel
	n.mu.Unlock()

	go cl.Run(nodeCtx)
}

// DisableNode tears down n's client without removing it from the node
// list, matching cluster_model_disable_node.
func (c *Cluster) DisableNode(n *Node) {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.client = nil
	n.enabled = false
	n.status = ""
	n.itersPerSec = 0
	n.bytesPerSec = 0
	n.mu.Unlock()
}

// RemoveNode disables and removes n from the cluster.
func (c *Cluster) RemoveNode(n *Node) {
	c.DisableNode(n)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.nodes {
		if x == n {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			return
		}
	}
}

// SetMinStreamInterval sets the minimum histogram-stream request
// interval for every current and future node, matching
// cluster_model_set_min_stream_interval.
func (c *Cluster) SetMinStreamInterval(d time.Duration) {
	c.mu.Lock()
	c.minStreamInterval = d
	c.hasMinStreamInterval = true
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()

	for _, n := range nodes {
		if cl := n.Client(); cl != nil {
			cl.MinStreamInterval = d
		}
	}
}

func (c *Cluster) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Cluster) readyClients() []*client.Client {
	var clients []*client.Client
	for _, n := range c.Nodes() {
		if cl, ok := n.ready(); ok {
			clients = append(clients, cl)
		}
	}
	return clients
}

// NotifyParam sends name's current value to every ready node,
// matching on_param_notify.
func (c *Cluster) NotifyParam(name string) {
	for _, cl := range c.readyClients() {
		cl.SendParam(c.Master.Params, name)
	}
}

// Start marks the cluster as rendering and tells every ready node to
// start, matching on_calc_start.
func (c *Cluster) Start() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	for _, cl := range c.readyClients() {
		cl.Command(nil, "calc_start")
	}
}

// Stop marks the cluster as idle and tells every ready node to stop,
// matching on_calc_stop.
func (c *Cluster) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	for _, cl := range c.readyClients() {
		cl.Command(nil, "calc_stop")
	}
}

// MergeResults asks every ready node for its progress and folds it
// into Master, matching on_calc_finished.
func (c *Cluster) MergeResults() {
	for _, cl := range c.readyClients() {
		cl.MergeResults(c.Master)
	}
}

// ShowStatus prints one line per enabled node, in the format
// cluster_model_show_status uses for batch-mode rendering.
func (c *Cluster) ShowStatus(w io.Writer) {
	for _, n := range c.Nodes() {
		if !n.Enabled() {
			continue
		}

		itersPerSec, bytesPerSec := n.Speed()
		hostAndPort := n.Host
		if n.Port != DefaultPort {
			hostAndPort = fmt.Sprintf("%s:%d", n.Host, n.Port)
		}

		fmt.Fprintf(w, "  %-19s %-17s %16s [%s]\n",
			hostAndPort,
			fmt.Sprintf("%.3e iter/s", itersPerSec),
			fmt.Sprintf("%.2f KB/s", bytesPerSec/1000),
			n.Status())
	}
}

// EnableDiscovery starts broadcasting for cluster nodes and adding
// whichever ones answer, skipping addresses already in the node list,
// matching cluster_model_enable_discovery /
// cluster_model_discovery_callback. ctx bounds both the discovery
// socket's lifetime and every node it adds.
func (c *Cluster) EnableDiscovery(ctx context.Context) error {
	c.mu.Lock()
	if c.discoveryCancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dc, err := discovery.NewClient(discovery.DefaultServiceName, discovery.DefaultInterval, c.Log)
	if err != nil {
		return err
	}

	discCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.discoveryCancel = cancel
	c.mu.Unlock()

	go func() {
		defer dc.Close()
		dc.Run(discCtx, func(host string, port int) {
			if c.FindByAddress(host, port) != nil {
				return
			}
			c.AddNode(ctx, host, port)
		})
	}()

	return nil
}

// DisableDiscovery stops auto-discovery, matching
// cluster_model_disable_discovery. Nodes already added remain.
func (c *Cluster) DisableDiscovery() {
	c.mu.Lock()
	cancel := c.discoveryCancel
	c.discoveryCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// WatchNodeListFile loads path as a newline-separated node list (blank
// lines and lines starting with '#' ignored, each other line parsed as
// AddNodes would parse one token) and reloads it, replacing the whole
// node list, whenever the file changes. There is no equivalent in the
// original, which only ever builds its node list from explicit GUI or
// command-line input; a watched file gives a headless cluster
// controller the same flexibility.
func (c *Cluster) WatchNodeListFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cluster: new watcher")
	}

	if err := c.reloadNodeListFile(ctx, path); err != nil && c.Log != nil {
		c.Log.Log(fyrelog.Warning, "cluster: load node list %s: %v", path, err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "cluster: watch node list directory")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.reloadNodeListFile(ctx, path); err != nil && c.Log != nil {
					c.Log.Log(fyrelog.Warning, "cluster: reload node list %s: %v", path, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if c.Log != nil {
					c.Log.Log(fyrelog.Warning, "cluster: watch node list: %v", err)
				}
			}
		}
	}()

	return nil
}

func (c *Cluster) reloadNodeListFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := append([]*Node(nil), c.nodes...)
	c.nodes = nil
	c.mu.Unlock()
	for _, n := range old {
		c.DisableNode(n)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c.AddNodes(ctx, line)
	}
	return nil
}
