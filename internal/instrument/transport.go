// Package instrument talks to the bench hardware: a Keysight 8164B tunable
// laser and Keithley 2400 source-meters, reached over raw TCP sockets, serial
// lines or a Prologix GPIB adapter. A simulated bench stands in for all of
// them during dry runs and tests.
package instrument

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrReadTimeout is returned when an instrument does not answer in time.
var ErrReadTimeout = errors.New("instrument read timed out")

// Transport sends one command line and reads one response line.
type Transport interface {
	Write(cmd string) error
	Read() (string, error)
	Close() error
}

// querier is a transport that exchanges a command and its answer in one step.
type querier interface {
	Query(cmd string) (string, error)
}

// Query writes cmd and reads the response.
func Query(t Transport, cmd string) (string, error) {
	if q, ok := t.(querier); ok {
		return q.Query(cmd)
	}
	if err := t.Write(cmd); err != nil {
		return "", err
	}
	return t.Read()
}

// lineTransport frames commands with a terminator and reads LF-terminated lines.
type lineTransport struct {
	conn       io.ReadWriteCloser
	r          *bufio.Reader
	terminator string
}

func newLineTransport(conn io.ReadWriteCloser, terminator string) *lineTransport {
	return &lineTransport{conn: conn, r: bufio.NewReader(conn), terminator: terminator}
}

func (t *lineTransport) Write(cmd string) error {
	if _, err := io.WriteString(t.conn, cmd+t.terminator); err != nil {
		return errors.Wrapf(err, "write %q", cmd)
	}
	return nil
}

func (t *lineTransport) Read() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, ErrReadTimeout) {
			return "", ErrReadTimeout
		}
		return "", errors.Wrap(err, "read response")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *lineTransport) Close() error {
	return t.conn.Close()
}

// DialTCP connects to a raw SCPI socket (port 5025 on most LAN instruments).
func DialTCP(addr string, timeout time.Duration) (Transport, error) {
	conn, err := dialConn(addr, timeout)
	if err != nil {
		return nil, err
	}
	return newLineTransport(conn, "\n"), nil
}

// dialConn opens a socket whose reads fail with ErrReadTimeout after timeout.
// A Prologix GPIB-ETHERNET adapter listens on port 1234.
func dialConn(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &deadlineConn{Conn: conn, timeout: timeout}, nil
}

type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, errors.Wrap(err, "arm read deadline")
	}
	n, err := c.Conn.Read(b)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, ErrReadTimeout
	}
	return n, err
}
