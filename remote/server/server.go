// Package server implements Fyre's remote rendering protocol: a
// line-oriented TCP server with SMTP-style numeric response codes,
// where each connection owns its own de Jong map and drives it
// cooperatively between reading commands and running short
// calculation bursts, the same scheduling model a GUI render uses but
// without anything to draw.
package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/pkg/errors"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/fyreerr"
	"github.com/davidt/fyre/fyrelog"
)

// DefaultAddr is the address Fyre's remote server binds by default,
// matching FYRE_DEFAULT_PORT.
const DefaultAddr = ":7931"

// Response codes, matching remote-server.h's FYRE_RESPONSE_* values.
const (
	ResponseReady        = 220
	ResponseOK           = 250
	ResponseProgress     = 251
	ResponseFalse        = 252
	ResponseBinary       = 380
	ResponseUnrecognized = 500
	ResponseBadValue     = 501
	ResponseUnsupported  = 502
)

// Server accepts remote protocol connections, each running
// independently against its own map.
type Server struct {
	Addr    string
	Verbose bool
	Log     fyrelog.Logger

	// RenderTime bounds how long a single calculation burst may run
	// before a connection checks for new commands again, matching
	// IterativeMap's render_time field. Zero uses dejong.DefaultRenderTime.
	RenderTime time.Duration

	ln net.Listener
}

// New returns a Server that will listen on addr (DefaultAddr if
// empty).
func New(addr string, log fyrelog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{Addr: addr, Log: log}
}

// Run binds the listener, notifies systemd (if running under it) that
// the service is ready, and accepts connections until ctx is done.
// Each connection is served in its own goroutine. Run blocks until ctx
// is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrap(err, "server: listen")
	}
	s.ln = ln

	if s.Verbose && s.Log != nil {
		s.Log.Log(fyrelog.Info, "server: listening on %s", s.Addr)
	}

	if err := dropPrivileges(s.Log); err != nil {
		ln.Close()
		return err
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil && s.Log != nil {
		s.Log.Log(fyrelog.Debug, "server: sd_notify ready failed: %v", err)
	}
	go s.watchdogLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "server: accept")
		}
		go s.serve(ctx, netConn)
	}
}

// watchdogLoop pings systemd's watchdog at half its configured
// interval, if the server was started with WATCHDOG_USEC set. It's a
// no-op (and returns immediately) otherwise.
func (s *Server) watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// Serve handles one already-accepted connection, the same way a
// connection accepted by Run would be handled. Exposed for callers
// that manage their own listener, e.g. socket activation.
func (s *Server) Serve(ctx context.Context, conn net.Conn) {
	s.serve(ctx, conn)
}

func (s *Server) renderTime() time.Duration {
	if s.RenderTime > 0 {
		return s.RenderTime
	}
	return dejong.DefaultRenderTime
}

// conn holds one accepted connection's state: its own map, the
// current render time budget, and whether a background calculation is
// running.
type conn struct {
	server     *Server
	netConn    net.Conn
	writer     *bufio.Writer
	m          *dejong.Map
	renderTime time.Duration
	running    bool
	histBuffer []byte
}

func (s *Server) serve(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()

	c := &conn{
		server:     s,
		netConn:    netConn,
		writer:     bufio.NewWriter(netConn),
		m:          dejong.New(time.Now().UnixNano()),
		renderTime: s.renderTime(),
	}

	if s.Verbose && s.Log != nil {
		s.Log.Log(fyrelog.Info, "server: [%s] connected", netConn.RemoteAddr())
	}

	c.sendResponse(ResponseReady, "Fyre rendering server ready")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(netConn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
	}()

	for {
		if c.running {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					if s.Verbose && s.Log != nil {
						s.Log.Log(fyrelog.Info, "server: [%s] disconnected", netConn.RemoteAddr())
					}
					return
				}
				c.dispatch(line)
			default:
				c.m.CalculateTimed(c.renderTime.Seconds())
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					if s.Verbose && s.Log != nil {
						s.Log.Log(fyrelog.Info, "server: [%s] disconnected", netConn.RemoteAddr())
					}
					return
				}
				c.dispatch(line)
			}
		}
	}
}

// dispatch parses one protocol line as "command[ args]" and runs its
// handler, matching remote_server_dispatch_line's split on the first
// space.
func (c *conn) dispatch(line string) {
	command := line
	args := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		command, args = line[:i], line[i+1:]
	}

	handler, ok := commands[command]
	if !ok {
		c.sendResponse(ResponseUnrecognized, "Command not recognized")
		return
	}
	handler(c, args)
}

var commands = map[string]func(*conn, string){
	"set_param":            (*conn).cmdSetParam,
	"set_render_time":      (*conn).cmdSetRenderTime,
	"calc_start":           (*conn).cmdCalcStart,
	"calc_stop":            (*conn).cmdCalcStop,
	"calc_step":            (*conn).cmdCalcStep,
	"calc_status":          (*conn).cmdCalcStatus,
	"get_histogram_stream": (*conn).cmdGetHistogramStream,
	"is_gui_available":     (*conn).cmdIsGUIAvailable,
	"set_gui_style":        (*conn).cmdSetGUIStyle,
}

// trySetParam tries args (a "name = value" line) against the map's own
// coefficients first, then its embedded imager's size/rendering
// fields, matching how dejong.ParseSnapshot splits a combined
// parameter string across the two holders.
func (c *conn) trySetParam(args string) error {
	err := c.m.Params.SetFromLine(args)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fyreerr.ErrUnknownProperty) {
		return err
	}
	return c.m.Imager.Params.SetFromLine(args)
}

func (c *conn) cmdSetParam(args string) {
	if err := c.trySetParam(args); err != nil {
		c.sendResponse(ResponseBadValue, "%s", err)
		return
	}
	c.sendResponse(ResponseOK, "ok")
}

func (c *conn) cmdSetRenderTime(args string) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(args), 64)
	if err != nil {
		c.sendResponse(ResponseBadValue, "expected a number of seconds")
		return
	}
	c.renderTime = time.Duration(seconds * float64(time.Second))
	c.sendResponse(ResponseOK, "ok")
}

func (c *conn) cmdCalcStart(args string) {
	if c.server.Verbose && c.server.Log != nil {
		c.server.Log.Log(fyrelog.Info, "server: [%s] starting calculation", c.netConn.RemoteAddr())
	}
	c.running = true
	c.sendResponse(ResponseOK, "ok")
}

func (c *conn) cmdCalcStop(args string) {
	if c.server.Verbose && c.server.Log != nil {
		c.server.Log.Log(fyrelog.Info, "server: [%s] pausing calculation", c.netConn.RemoteAddr())
	}
	c.running = false
	c.sendResponse(ResponseOK, "ok")
}

func (c *conn) cmdCalcStep(args string) {
	c.m.CalculateTimed(c.renderTime.Seconds())
	c.sendResponse(ResponseOK, "ok")
}

func (c *conn) cmdCalcStatus(args string) {
	c.sendResponse(ResponseProgress, "iterations=%.20e density=%d",
		c.m.Iterations(), c.m.PeakDensity())
}

func (c *conn) cmdGetHistogramStream(args string) {
	var buf bytes.Buffer
	if _, err := c.m.ExportStream(&buf); err != nil {
		c.sendResponse(ResponseBadValue, "%s", err)
		return
	}
	c.sendBinary(buf.Bytes())
}

func (c *conn) cmdIsGUIAvailable(args string) {
	c.sendResponse(ResponseFalse, "No GUI is available")
}

func (c *conn) cmdSetGUIStyle(args string) {
	c.sendResponse(ResponseUnsupported, "No GUI is available")
}

func (c *conn) sendResponse(code int, format string, a ...interface{}) {
	fmt.Fprintf(c.writer, "%d %s\n", code, fmt.Sprintf(format, a...))
	c.writer.Flush()
}

// sendBinary writes the FYRE_RESPONSE_BINARY header followed
// immediately by the raw payload, matching remote_server_send_binary.
func (c *conn) sendBinary(data []byte) {
	fmt.Fprintf(c.writer, "%d %d byte binary response\n", ResponseBinary, len(data))
	c.writer.Write(data)
	c.writer.Flush()
}
