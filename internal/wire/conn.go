// Package wire is a minimal IMAP client transport. It pairs tagged commands
// with their completion and hands back every untagged line, with literal
// payloads split out, for the parser package to decode.
package wire

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/parser"
)

const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

const (
	StatusOK  = "OK"
	StatusNO  = "NO"
	StatusBAD = "BAD"
	StatusBYE = "BYE"
)

// maxLiteralSize guards against a corrupted length prefix.
const maxLiteralSize = 512 << 20

// Reply is the outcome of one tagged command.
type Reply struct {
	Tag      string
	Status   string
	Text     string
	Segments []parser.Segment
}

func (r *Reply) OK() bool {
	return r.Status == StatusOK
}

// Conn is a single IMAP connection. Commands are serialized; Execute holds
// an internal lock while a command is in flight.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	tag    uint64
	log    logger.Logger
	closed bool
}

// NewConn wraps an established connection and consumes the server greeting.
func NewConn(conn net.Conn, log logger.Logger) (*Conn, error) {
	c := &Conn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 64*1024),
		w:    bufio.NewWriter(conn),
		log:  log,
	}
	greeting, err := c.readLine()
	if err != nil {
		return nil, errors.Wrap(err, "reading greeting")
	}
	if !strings.HasPrefix(greeting, "* OK") && !strings.HasPrefix(greeting, "* PREAUTH") {
		return nil, errors.Errorf("unexpected greeting %q", greeting)
	}
	c.log.Debugf("greeting: %s", greeting)
	return c, nil
}

type DialOptions struct {
	Address            string
	Security           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Dial connects to the server with implicit TLS, STARTTLS or in the clear.
func Dial(ctx context.Context, opts DialOptions, log logger.Logger) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}

	host, _, err := net.SplitHostPort(opts.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server address %q", opts.Address)
	}
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	var raw net.Conn
	if opts.Security == SecurityTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		raw, err = tlsDialer.DialContext(ctx, "tcp", opts.Address)
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", opts.Address)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", opts.Address)
	}

	c, err := NewConn(raw, log)
	if err != nil {
		raw.Close()
		return nil, err
	}

	if opts.Security == SecurityStartTLS {
		if err := c.StartTLS(ctx, tlsConfig); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// StartTLS upgrades the connection in place.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	reply, err := c.Execute(ctx, "STARTTLS")
	if err != nil {
		return err
	}
	if !reply.OK() {
		return &mailfserrors.StatusError{Command: "STARTTLS", Status: reply.Status, Text: reply.Text}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tlsConn := tls.Client(c.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return errors.Wrap(err, "tls handshake")
	}
	c.conn = tlsConn
	c.r = bufio.NewReaderSize(tlsConn, 64*1024)
	c.w = bufio.NewWriter(tlsConn)
	return nil
}

// Login authenticates with the LOGIN command.
func (c *Conn) Login(ctx context.Context, username, password string) error {
	reply, err := c.execute(ctx, fmt.Sprintf("LOGIN %s %s", Quote(username), Quote(password)), "LOGIN")
	if err != nil {
		return err
	}
	if !reply.OK() {
		return &mailfserrors.StatusError{Command: "LOGIN", Status: reply.Status, Text: reply.Text}
	}
	return nil
}

// Logout says goodbye and closes the connection.
func (c *Conn) Logout(ctx context.Context) error {
	_, err := c.Execute(ctx, "LOGOUT")
	closeErr := c.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Execute sends command and collects every untagged segment up to the
// tagged completion. A non-OK completion is not an error here; errors are
// reserved for transport failures.
func (c *Conn) Execute(ctx context.Context, command string) (*Reply, error) {
	return c.execute(ctx, command, command)
}

func (c *Conn) execute(ctx context.Context, command, logged string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, mailfserrors.ErrConnectionClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	c.tag++
	tag := "a" + strconv.FormatUint(c.tag, 10)

	c.log.Debugf("C: %s %s", tag, logged)
	if _, err := c.w.WriteString(tag + " " + command + "\r\n"); err != nil {
		return nil, errors.Wrap(err, "writing command")
	}
	if err := c.w.Flush(); err != nil {
		return nil, errors.Wrap(err, "writing command")
	}

	return c.readReply(tag)
}

func (c *Conn) readReply(tag string) (*Reply, error) {
	reply := &Reply{Tag: tag}
	prefix := tag + " "

	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}

		switch {
		case strings.HasPrefix(line, prefix):
			status, text, _ := strings.Cut(line[len(prefix):], " ")
			reply.Status = strings.ToUpper(status)
			reply.Text = text
			return reply, nil
		case strings.HasPrefix(line, "+"):
			// Continuation requests are never solicited by the commands we send.
			c.log.Warnf("ignoring continuation request: %s", line)
		case strings.HasPrefix(line, "* "):
			segments, err := c.readSegments(line[2:])
			if err != nil {
				return nil, err
			}
			if status, text, ok := strings.Cut(line[2:], " "); ok && strings.EqualFold(status, StatusBYE) {
				c.log.Warnf("server closing connection: %s", text)
			}
			reply.Segments = append(reply.Segments, segments...)
		default:
			c.log.Warnf("ignoring unexpected line: %s", line)
		}
	}
}

// readSegments reads the literals announced by line and the continuation
// lines that follow them. Each literal ends a segment, so the text after it
// arrives as a new segment, to be folded back by the parser.
func (c *Conn) readSegments(line string) ([]parser.Segment, error) {
	var segments []parser.Segment
	for {
		size, ok := literalSuffix(line)
		if !ok {
			return append(segments, parser.Segment{Text: line}), nil
		}
		if size > maxLiteralSize {
			return nil, errors.Errorf("literal of %d bytes exceeds limit", size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return nil, c.transportErr(err, "reading literal")
		}
		segments = append(segments, parser.Segment{Text: line, Literals: [][]byte{payload}})

		next, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if next == "" {
			return segments, nil
		}
		line = next
	}
}

func (c *Conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", c.transportErr(err, "reading reply")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Conn) transportErr(err error, msg string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(mailfserrors.ErrConnectionClosed, msg)
	}
	return errors.Wrap(err, msg)
}

// literalSuffix returns n when line ends with a {n} literal marker.
func literalSuffix(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	digits := strings.TrimSuffix(line[open+1:len(line)-1], "+")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Quote renders s as an IMAP quoted string.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
