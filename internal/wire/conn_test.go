package wire

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/parser"
)

// scriptedServer answers each received command line with the reply the
// script holds for it. The tag placeholder TAG is replaced by the tag the
// client sent.
type scriptedServer struct {
	conn     net.Conn
	received chan string
}

func newScriptedServer(t *testing.T, greeting string, script map[string]string) (*scriptedServer, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := &scriptedServer{conn: server, received: make(chan string, 16)}

	go func() {
		defer server.Close()
		if _, err := server.Write([]byte(greeting)); err != nil {
			return
		}
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			tag, command, _ := strings.Cut(line, " ")
			s.received <- command
			reply, ok := script[command]
			if !ok {
				reply = "TAG BAD unknown command\r\n"
			}
			if _, err := server.Write([]byte(strings.ReplaceAll(reply, "TAG", tag))); err != nil {
				return
			}
			if command == "LOGOUT" {
				return
			}
		}
	}()
	return s, client
}

func TestConn_ExecuteCollectsUntaggedLines(t *testing.T) {
	_, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		`LIST "" "*"`: "* LIST (\\HasNoChildren) \"/\" INBOX\r\n" +
			"* LIST (\\HasChildren) \"/\" Lists\r\n" +
			"TAG OK LIST completed\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Execute(context.Background(), `LIST "" "*"`)
	require.NoError(t, err)
	assert.True(t, reply.OK())
	assert.Equal(t, "a1", reply.Tag)
	assert.Equal(t, "LIST completed", reply.Text)
	require.Len(t, reply.Segments, 2)
	assert.Equal(t, `LIST (\HasNoChildren) "/" INBOX`, reply.Segments[0].Text)
	assert.Empty(t, reply.Segments[0].Literals)
}

func TestConn_ExecuteSplitsLiterals(t *testing.T) {
	header := "Subject: hi\r\n\r\n"
	_, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		"UID FETCH 7 (UID BODY.PEEK[HEADER])": "* 1 FETCH (UID 7 BODY[HEADER] {15}\r\n" + header + ")\r\n" +
			"TAG OK done\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Execute(context.Background(), "UID FETCH 7 (UID BODY.PEEK[HEADER])")
	require.NoError(t, err)
	require.Len(t, reply.Segments, 2)
	assert.Equal(t, "1 FETCH (UID 7 BODY[HEADER] {15}", reply.Segments[0].Text)
	assert.Equal(t, [][]byte{[]byte(header)}, reply.Segments[0].Literals)
	assert.Equal(t, ")", reply.Segments[1].Text)

	resolved, err := parser.Resolve(reply.Segments)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	fields := resolved[0][2]
	require.True(t, fields.IsList)
	assert.Equal(t, "Subject: hi\n\n", fields.List[3].Value)
}

func TestConn_ExecuteLiteralAtEndOfLine(t *testing.T) {
	_, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		`LIST "" "*"`: "* LIST () \"/\" {7}\r\nfoo\"bar\r\n" +
			"TAG OK done\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Execute(context.Background(), `LIST "" "*"`)
	require.NoError(t, err)
	require.Len(t, reply.Segments, 1)

	resolved, err := parser.Resolve(reply.Segments)
	require.NoError(t, err)
	require.Len(t, resolved[0], 4)
	assert.Equal(t, `foo"bar`, resolved[0][3].Value)
}

func TestConn_NonOKIsNotAnError(t *testing.T) {
	_, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		"SELECT Missing": "TAG NO no such mailbox\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Execute(context.Background(), "SELECT Missing")
	require.NoError(t, err)
	assert.False(t, reply.OK())
	assert.Equal(t, StatusNO, reply.Status)
	assert.Equal(t, "no such mailbox", reply.Text)
}

func TestConn_Login(t *testing.T) {
	server, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		`LOGIN "user" "pa\"ss"`: "TAG OK logged in\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Login(context.Background(), "user", `pa"ss`))
	assert.Equal(t, `LOGIN "user" "pa\"ss"`, <-server.received)
}

func TestConn_LoginRejected(t *testing.T) {
	_, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		`LOGIN "user" "wrong"`: "TAG NO authentication failed\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	err = c.Login(context.Background(), "user", "wrong")
	require.Error(t, err)
	assert.True(t, mailfserrors.IsStatusError(err))
}

func TestConn_ClosedConnection(t *testing.T) {
	_, client := newScriptedServer(t, "* OK ready\r\n", map[string]string{
		"LOGOUT": "* BYE see you\r\nTAG OK bye\r\n",
	})
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	_, err = c.Execute(context.Background(), "NOOP")
	assert.ErrorIs(t, err, mailfserrors.ErrConnectionClosed)
}

func TestConn_ServerHangup(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		server.Write([]byte("* OK ready\r\n"))
		r := bufio.NewReader(server)
		r.ReadString('\n')
		server.Close()
	}()
	c, err := NewConn(client, logger.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Execute(context.Background(), "NOOP")
	assert.ErrorIs(t, err, mailfserrors.ErrConnectionClosed)
}

func TestNewConn_RejectsBadGreeting(t *testing.T) {
	_, client := newScriptedServer(t, "* BYE go away\r\n", nil)
	_, err := NewConn(client, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestLiteralSuffix(t *testing.T) {
	n, ok := literalSuffix("1 FETCH (BODY[] {42}")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = literalSuffix("LIST () \"/\" {3+}")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = literalSuffix("LIST () \"/\" INBOX")
	assert.False(t, ok)
	_, ok = literalSuffix("OK {abc}")
	assert.False(t, ok)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"INBOX"`, Quote("INBOX"))
	assert.Equal(t, `"a \"b\" \\c"`, Quote(`a "b" \c`))
	assert.Equal(t, `""`, Quote(""))
}
