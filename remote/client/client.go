// Package client implements the caller side of Fyre's remote rendering
// protocol: a connection to one remote/server worker that queues
// commands, matches each response to its command in arrival order, and
// folds a worker's reported iteration count and histogram stream into
// a local map.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/bitrate"
	"github.com/pkg/errors"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/fyrelog"
	"github.com/davidt/fyre/params"
)

// Response codes this package looks for in a reply line; the rest of
// the protocol's codes only matter to the command that provoked them,
// so they're passed through to callbacks as plain integers.
const (
	responseReady  = 220
	responseBinary = 380
)

const (
	// DefaultMinStreamInterval bounds how often MergeResults will ask
	// for a fresh histogram stream, matching remote_client_init's
	// min_stream_interval default.
	DefaultMinStreamInterval = time.Second

	// DefaultRetryTimeout is how long Run waits before reconnecting
	// after a dropped or failed connection, matching
	// remote_client_init's retry_timeout default.
	DefaultRetryTimeout = 60 * time.Second

	// maxPendingStreamRequests caps how many get_histogram_stream
	// requests may be outstanding at once, matching
	// remote_client_merge_results' backpressure check.
	maxPendingStreamRequests = 4
)

// Response is one line (and, for a binary response, its payload)
// received from the server.
type Response struct {
	Code    int
	Message string
	Data    []byte
}

// ResponseCallback is invoked once for the response matching the
// command it was registered against.
type ResponseCallback func(resp *Response)

// StatusCallback reports human-readable connection state changes:
// "Connecting...", "Connected", "Ready", "Connection closed", and so
// on, matching remote_client_update_status's messages.
type StatusCallback func(msg string)

// SpeedCallback reports the client's most recently measured iteration
// and byte throughput, in units of bitrate.Calculator.Bitrate.
type SpeedCallback func(itersPerSec, bytesPerSec int)

// Client is a connection to one remote Fyre worker. The zero value is
// not usable; build one with New. Host, Port, MinStreamInterval,
// RetryTimeout and RetryEnabled should be set before calling Run.
type Client struct {
	Host string
	Port int
	Log  fyrelog.Logger

	MinStreamInterval time.Duration
	RetryTimeout      time.Duration
	RetryEnabled      bool

	statusCB StatusCallback
	speedCB  SpeedCallback

	mu     sync.Mutex
	writer *bufio.Writer
	queue  []ResponseCallback
	ready  bool

	pendingParamChanges   int
	pendingStreamRequests int
	prevIterations        float64
	lastStreamRequest     time.Time

	iterCalc bitrate.Calculator
	byteCalc bitrate.Calculator
}

// New returns a Client that will dial host:port once Run is called,
// with retrying enabled by default.
func New(host string, port int) *Client {
	return &Client{
		Host:              host,
		Port:              port,
		MinStreamInterval: DefaultMinStreamInterval,
		RetryTimeout:      DefaultRetryTimeout,
		RetryEnabled:      true,
	}
}

// SetStatusCallback registers the callback Run uses to report
// connection state changes.
func (c *Client) SetStatusCallback(cb StatusCallback) { c.statusCB = cb }

// SetSpeedCallback registers the callback MergeResults uses to report
// fresh throughput measurements.
func (c *Client) SetSpeedCallback(cb SpeedCallback) { c.speedCB = cb }

// IsReady reports whether the server's ready greeting has been seen on
// the current connection.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) minStreamInterval() time.Duration {
	if c.MinStreamInterval > 0 {
		return c.MinStreamInterval
	}
	return DefaultMinStreamInterval
}

func (c *Client) retryTimeout() time.Duration {
	if c.RetryTimeout > 0 {
		return c.RetryTimeout
	}
	return DefaultRetryTimeout
}

// Run dials the server and serves its responses until ctx is done. If
// the connection drops and RetryEnabled is set, Run waits
// retryTimeout and dials again; otherwise it returns the error that
// ended the connection. Run only returns nil when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		c.ready = false
		c.writer = nil
		c.mu.Unlock()

		if err != nil && err != io.EOF {
			c.updateStatus("Connection error")
			if c.Log != nil {
				c.Log.Log(fyrelog.Warning, "client: [%s:%d] %v", c.Host, c.Port, err)
			}
		} else {
			c.updateStatus("Connection closed")
		}

		if !c.RetryEnabled {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryTimeout()):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	c.updateStatus("Connecting...")

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.writer = bufio.NewWriter(conn)
	c.queue = nil
	c.pendingParamChanges = 0
	c.pendingStreamRequests = 0
	c.prevIterations = 0
	c.iterCalc = bitrate.Calculator{}
	c.byteCalc = bitrate.Calculator{}
	c.lastStreamRequest = time.Time{}
	c.mu.Unlock()

	c.updateStatus("Connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return c.readLoop(bufio.NewReader(conn))
}

func (c *Client) readLoop(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		code, message := parseResponseLine(strings.TrimRight(line, "\r\n"))

		var data []byte
		if code == responseBinary {
			if n := parseBinaryLength(message); n > 0 {
				data = make([]byte, n)
				if _, err := io.ReadFull(r, data); err != nil {
					return err
				}
			}
		}

		c.handleResponse(code, message, data)
	}
}

func parseResponseLine(line string) (code int, message string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		code, _ = strconv.Atoi(line)
		return code, ""
	}
	code, _ = strconv.Atoi(line[:i])
	return code, line[i+1:]
}

func parseBinaryLength(message string) int {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(fields[0])
	return n
}

// handleResponse matches a response to the oldest outstanding command,
// in the order commands were sent, matching remote_client_recv_line's
// g_queue_pop_tail. A response that nothing is waiting for is either
// the unsolicited ready greeting or a protocol error.
func (c *Client) handleResponse(code int, message string, data []byte) {
	c.mu.Lock()
	var cb ResponseCallback
	have := false
	if len(c.queue) > 0 {
		cb = c.queue[0]
		c.queue = c.queue[1:]
		have = true
	}
	c.mu.Unlock()

	if have {
		if cb != nil {
			cb(&Response{Code: code, Message: message, Data: data})
		}
		return
	}

	if code == responseReady {
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.updateStatus("Ready")
		return
	}
	c.updateStatus("Protocol error")
}

func (c *Client) updateStatus(format string, args ...interface{}) {
	if c.statusCB == nil {
		return
	}
	c.statusCB(fmt.Sprintf(format, args...))
}

// Command sends one line built from format and args, and queues
// callback to run against whichever response arrives for it. callback
// may be nil for a command whose answer isn't interesting.
func (c *Client) Command(callback ResponseCallback, format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return errors.New("client: not connected")
	}

	idx := len(c.queue)
	c.queue = append(c.queue, callback)

	if _, err := fmt.Fprintf(c.writer, "%s\n", line); err != nil {
		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		return errors.Wrap(err, "client: write command")
	}
	if err := c.writer.Flush(); err != nil {
		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		return errors.Wrap(err, "client: flush command")
	}
	return nil
}

// SendParam sends one parameter's current value to the server,
// matching remote_client_send_param. Changes are tracked so that
// status and histogram merges arriving before the server has applied
// them can be discarded rather than attributed to the old parameters.
func (c *Client) SendParam(h *params.Holder, name string) {
	v, ok := h.Get(name)
	if !ok {
		return
	}

	c.mu.Lock()
	c.pendingParamChanges++
	c.mu.Unlock()

	c.Command(func(resp *Response) {
		c.mu.Lock()
		c.pendingParamChanges--
		c.mu.Unlock()
	}, "set_param %s = %s", name, v.String())
}

// SendAllParams sends every serializable field of h, matching
// remote_client_send_all_params.
func (c *Client) SendAllParams(h *params.Holder) {
	for _, f := range h.Fields() {
		if !f.Serialize {
			continue
		}
		c.SendParam(h, f.Name)
	}
}

// MergeResults requests a progress update, and (no more often than
// MinStreamInterval, and never with more than
// maxPendingStreamRequests outstanding) a fresh histogram stream, and
// merges both into dest. Matches remote_client_merge_results.
func (c *Client) MergeResults(dest *dejong.Map) {
	c.Command(func(resp *Response) {
		c.handleStatus(dest, resp)
	}, "calc_status")

	c.mu.Lock()
	if c.pendingStreamRequests >= maxPendingStreamRequests {
		c.mu.Unlock()
		return
	}
	if time.Since(c.lastStreamRequest) < c.minStreamInterval() {
		c.mu.Unlock()
		return
	}
	c.lastStreamRequest = time.Now()
	c.pendingStreamRequests++
	c.mu.Unlock()

	c.Command(func(resp *Response) {
		c.handleStream(dest, resp)
	}, "get_histogram_stream")
}

func (c *Client) handleStatus(dest *dejong.Map, resp *Response) {
	var iters float64
	var density uint64
	fmt.Sscanf(resp.Message, "iterations=%g density=%d", &iters, &density)

	c.mu.Lock()
	var delta float64
	if iters >= c.prevIterations {
		delta = iters - c.prevIterations
	} else {
		// The node's counter went backwards; assume it was reset and
		// started again from zero.
		delta = iters
	}
	c.prevIterations = iters
	pendingParams := c.pendingParamChanges
	c.mu.Unlock()

	if pendingParams > 0 || delta == 0 {
		return
	}

	dest.MergeIterations(delta)
	c.iterCalc.Report(int(delta))

	if c.speedCB != nil {
		c.speedCB(c.iterCalc.Bitrate(), c.byteCalc.Bitrate())
	}
}

func (c *Client) handleStream(dest *dejong.Map, resp *Response) {
	c.mu.Lock()
	c.pendingStreamRequests--
	pendingParams := c.pendingParamChanges
	c.mu.Unlock()

	if pendingParams > 0 {
		return
	}
	if len(resp.Data) == 0 {
		return
	}

	if err := dest.Imager.MergeStream(bytes.NewReader(resp.Data)); err != nil {
		if c.Log != nil {
			c.Log.Log(fyrelog.Warning, "client: merge histogram stream: %v", err)
		}
		return
	}

	c.byteCalc.Report(len(resp.Data))

	if c.speedCB != nil {
		c.speedCB(c.iterCalc.Bitrate(), c.byteCalc.Bitrate())
	}
}
