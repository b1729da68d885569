// Package discovery implements Fyre's UDP broadcast service
// announcement: a Server answers broadcast probes for a named
// service with the TCP port it's listening on, and a Client sends
// those probes periodically and reports back whatever hosts answer.
//
// Both sides exchange datagrams on Port, with no acknowledgement or
// retry beyond the client's own broadcast interval: a lost packet in
// either direction just means the client tries again next interval.
package discovery

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/davidt/fyre/fyreerr"
	"github.com/davidt/fyre/fyrelog"
)

// Port is the UDP port both the server and client bind, matching
// FYRE_DISCOVERY_PORT.
const Port = 7932

// DefaultServiceName is the service name the bundled remote server
// advertises and the bundled cluster node search broadcasts for.
const DefaultServiceName = "Fyre Server 1"

// DefaultInterval is how often a Client re-broadcasts its probe.
const DefaultInterval = 5 * time.Minute

// Server listens for broadcast probes naming ServiceName and replies
// with ServicePort, letting clients on the local network find the TCP
// service it fronts without being told an address up front.
type Server struct {
	ServiceName string
	ServicePort int

	conn *net.UDPConn
	log  fyrelog.Logger
}

// NewServer binds a Server to Port on every local address. serviceName
// is the probe payload this server answers; servicePort is the value
// it reports back to a matching probe.
func NewServer(serviceName string, servicePort int, log fyrelog.Logger) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: Port})
	if err != nil {
		return nil, errors.Wrap(fyreerr.ErrIOFailure, err.Error())
	}
	return &Server{
		ServiceName: serviceName,
		ServicePort: servicePort,
		conn:        conn,
		log:         log,
	}, nil
}

// Close releases the server's socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run reads probes until ctx is done or the socket is closed,
// replying to every one that exactly matches ServiceName. It blocks,
// so callers typically run it in its own goroutine.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, len(s.ServiceName)+16)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(fyreerr.ErrIOFailure, err.Error())
		}

		if !matchesProbe(buf[:n], s.ServiceName) {
			continue
		}

		reply := append(append([]byte{}, buf[:n]...), byte(s.ServicePort>>8), byte(s.ServicePort))
		if _, err := s.conn.WriteToUDP(reply, addr); err != nil && s.log != nil {
			s.log.Log(fyrelog.Warning, "discovery: reply failed: %v", err)
		}
	}
}

// matchesProbe reports whether payload is exactly serviceName
// followed by a single NUL byte, the probe's wire format.
func matchesProbe(payload []byte, serviceName string) bool {
	want := len(serviceName) + 1
	if len(payload) != want {
		return false
	}
	return bytes.Equal(payload[:len(serviceName)], []byte(serviceName)) && payload[len(serviceName)] == 0
}

// ResultFunc is called once per server response a Client receives,
// with the responding host (address only, no port) and the TCP port
// it reported. The same host may be reported more than once across
// broadcast intervals; deduplicating is the caller's responsibility.
type ResultFunc func(host string, port int)

// Client periodically broadcasts a probe for ServiceName and invokes a
// callback for every response.
type Client struct {
	ServiceName string
	Interval    time.Duration

	conn *net.UDPConn
	log  fyrelog.Logger
}

// NewClient returns a Client ready to broadcast probes for
// serviceName. If interval is zero, DefaultInterval is used.
func NewClient(serviceName string, interval time.Duration, log fyrelog.Logger) (*Client, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(fyreerr.ErrIOFailure, err.Error())
	}
	if err := conn.SetWriteBuffer(1 << 16); err != nil && log != nil {
		log.Log(fyrelog.Warning, "discovery: set write buffer failed: %v", err)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Client{
		ServiceName: serviceName,
		Interval:    interval,
		conn:        conn,
		log:         log,
	}, nil
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run broadcasts a probe immediately, then again every Interval, and
// delivers every response it receives to onResult, until ctx is done.
func (c *Client) Run(ctx context.Context, onResult ResultFunc) error {
	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	probe := append([]byte(c.ServiceName), 0)
	broadcast := func() {
		if _, err := c.conn.WriteToUDP(probe, broadcastAddr); err != nil && c.log != nil {
			c.log.Log(fyrelog.Warning, "discovery: broadcast failed: %v", err)
		}
	}
	broadcast()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcast()
			}
		}
	}()

	buf := make([]byte, len(c.ServiceName)+16)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(fyreerr.ErrIOFailure, err.Error())
		}

		port, ok := parseResponse(buf[:n], c.ServiceName)
		if !ok {
			continue
		}
		onResult(addr.IP.String(), port)
	}
}

// parseResponse reports whether payload is serviceName, a NUL, and a
// big-endian 16-bit port, returning the port if so.
func parseResponse(payload []byte, serviceName string) (port int, ok bool) {
	want := len(serviceName) + 3
	if len(payload) != want {
		return 0, false
	}
	if !bytes.Equal(payload[:len(serviceName)], []byte(serviceName)) {
		return 0, false
	}
	if payload[len(serviceName)] != 0 {
		return 0, false
	}
	hi, lo := payload[want-2], payload[want-1]
	return int(hi)<<8 | int(lo), true
}
