// Package imaptest provides an in-memory IMAP peer for tests. It speaks
// the command subset the session issues and records every command so tests
// can assert on server traffic.
package imaptest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailfs/interfaces"
	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/parser"
	"github.com/customeros/mailfs/internal/wire"
)

type Message struct {
	UID   uint32
	Flags []string
	Date  time.Time
	Raw   string
}

// Header returns the raw header block including the blank line.
func (m *Message) Header() string {
	if idx := strings.Index(m.Raw, "\r\n\r\n"); idx >= 0 {
		return m.Raw[:idx+4]
	}
	return m.Raw
}

type Mailbox struct {
	Name       string
	Attributes []string
	Messages   []*Message
	NextUID    uint32
}

// Server holds the mailboxes shared by every connection it hands out.
type Server struct {
	mu        sync.Mutex
	Separator string
	Mailboxes map[string]*Mailbox

	commands []string
	dials    int
	fail     map[string]int
	reject   map[string]string
	inject   map[string][]string
	conn     *Conn
}

func NewServer(separator string) *Server {
	s := &Server{
		Separator: separator,
		Mailboxes: make(map[string]*Mailbox),
		fail:      make(map[string]int),
		reject:    make(map[string]string),
		inject:    make(map[string][]string),
	}
	s.AddMailbox(imap.InboxName)
	return s
}

func (s *Server) AddMailbox(name string, attributes ...string) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox := &Mailbox{Name: name, Attributes: attributes, NextUID: 1}
	s.Mailboxes[name] = mbox
	return mbox
}

// AddMessage appends a message to mailbox and returns its UID.
func (s *Server) AddMessage(mailbox, raw string, flags ...string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox := s.Mailboxes[mailbox]
	uid := mbox.NextUID
	mbox.NextUID++
	mbox.Messages = append(mbox.Messages, &Message{
		UID:   uid,
		Flags: append([]string{}, flags...),
		Date:  time.Date(2024, 3, 9, 10, 15, 0, 0, time.UTC),
		Raw:   raw,
	})
	return uid
}

// Dial implements interfaces.Dialer.
func (s *Server) Dial(ctx context.Context) (interfaces.IMAPConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	s.conn = &Conn{server: s}
	return s.conn, nil
}

// FailNext makes the next command with verb break the connection.
func (s *Server) FailNext(verb string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[verb]++
}

// Reject makes every command with verb complete with NO.
func (s *Server) Reject(verb, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[verb] = text
}

// InjectNext adds a raw untagged line to the next reply to verb.
func (s *Server) InjectNext(verb, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[verb] = append(s.inject[verb], line)
}

// Commands returns the commands received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Count returns how many commands with verb were received. UID commands
// are counted under their two word verb, for example "UID FETCH".
func (s *Server) Count(verb string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, command := range s.commands {
		if commandVerb(command) == verb {
			n++
		}
	}
	return n
}

// Reset forgets recorded commands.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Selected is the mailbox selected on the live connection.
func (s *Server) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.selected
}

func (s *Server) Mailbox(name string) (*Mailbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox, ok := s.Mailboxes[name]
	return mbox, ok
}

func commandVerb(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	verb := strings.ToUpper(fields[0])
	if verb == "UID" && len(fields) > 1 {
		verb += " " + strings.ToUpper(fields[1])
	}
	return verb
}

// Conn is one connection to a Server.
type Conn struct {
	server   *Server
	selected string
	closed   bool
}

func (c *Conn) Execute(ctx context.Context, command string) (*wire.Reply, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, mailfserrors.ErrConnectionClosed
	}
	s.commands = append(s.commands, command)

	verb := commandVerb(command)
	if s.fail[verb] > 0 {
		s.fail[verb]--
		c.closed = true
		return nil, errors.Wrap(mailfserrors.ErrConnectionClosed, "reading reply")
	}
	if text, ok := s.reject[verb]; ok {
		if verb == "SELECT" {
			c.selected = ""
		}
		return &wire.Reply{Status: wire.StatusNO, Text: text}, nil
	}

	tokens, err := parser.Parse(command)
	if err != nil {
		return &wire.Reply{Status: wire.StatusBAD, Text: err.Error()}, nil
	}
	args := tokens[1:]
	if verb != strings.ToUpper(tokens[0].Value) {
		args = tokens[2:]
	}

	r := &reply{}
	for _, line := range s.inject[verb] {
		r.line(line)
	}
	delete(s.inject, verb)
	switch verb {
	case "NOOP":
	case "LOGOUT":
		r.line("BYE logging out")
		c.closed = true
	case "LIST":
		c.list(r)
	case "SELECT":
		if err := c.selectMailbox(r, args); err != nil {
			c.selected = ""
			return r.no(err), nil
		}
	case "UID SEARCH":
		if err := c.search(r); err != nil {
			return r.no(err), nil
		}
	case "UID FETCH":
		if err := c.fetch(r, args); err != nil {
			return r.no(err), nil
		}
	case "CREATE":
		if err := c.create(args); err != nil {
			return r.no(err), nil
		}
	case "DELETE":
		if err := c.deleteMailbox(args); err != nil {
			return r.no(err), nil
		}
	case "RENAME":
		if err := c.rename(args); err != nil {
			return r.no(err), nil
		}
	case "UID COPY":
		if err := c.copyMessages(args); err != nil {
			return r.no(err), nil
		}
	case "UID STORE":
		if err := c.store(args); err != nil {
			return r.no(err), nil
		}
	case "EXPUNGE":
		if err := c.expunge(r); err != nil {
			return r.no(err), nil
		}
	default:
		return &wire.Reply{Status: wire.StatusBAD, Text: "unknown command " + verb}, nil
	}
	return r.ok(), nil
}

func (c *Conn) Logout(ctx context.Context) error {
	_, err := c.Execute(ctx, "LOGOUT")
	return err
}

func (c *Conn) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) mailbox(name string) (*Mailbox, error) {
	mbox, ok := c.server.Mailboxes[name]
	if !ok {
		return nil, errors.Errorf("mailbox %s does not exist", name)
	}
	return mbox, nil
}

func (c *Conn) selectedMailbox() (*Mailbox, error) {
	if c.selected == "" {
		return nil, errors.New("no mailbox selected")
	}
	return c.mailbox(c.selected)
}

func (c *Conn) list(r *reply) {
	names := make([]string, 0, len(c.server.Mailboxes))
	for name := range c.server.Mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mbox := c.server.Mailboxes[name]
		r.text(fmt.Sprintf("LIST (%s) %s ", strings.Join(mbox.Attributes, " "), wire.Quote(c.server.Separator)))
		if strings.ContainsAny(name, `"\`) {
			r.literal(name)
		} else {
			r.text(wire.Quote(name))
		}
		r.end()
	}
}

func (c *Conn) selectMailbox(r *reply, args []parser.Token) error {
	if len(args) != 1 {
		return errors.New("SELECT expects one argument")
	}
	mbox, err := c.mailbox(args[0].Value)
	if err != nil {
		return err
	}
	for _, attr := range mbox.Attributes {
		if strings.EqualFold(attr, imap.NoSelectAttr) {
			return errors.Errorf("mailbox %s is not selectable", mbox.Name)
		}
	}
	c.selected = mbox.Name
	r.line(`FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
	r.line(fmt.Sprintf("%d EXISTS", len(mbox.Messages)))
	r.line("0 RECENT")
	r.line("OK [UIDVALIDITY 1] UIDs valid")
	r.line(fmt.Sprintf("OK [UIDNEXT %d] Predicted next UID", mbox.NextUID))
	return nil
}

func (c *Conn) search(r *reply) error {
	mbox, err := c.selectedMailbox()
	if err != nil {
		return err
	}
	parts := []string{"SEARCH"}
	for _, msg := range mbox.Messages {
		parts = append(parts, strconv.FormatUint(uint64(msg.UID), 10))
	}
	r.line(strings.Join(parts, " "))
	return nil
}

func (c *Conn) fetch(r *reply, args []parser.Token) error {
	mbox, err := c.selectedMailbox()
	if err != nil {
		return err
	}
	if len(args) != 2 || !args[1].IsList {
		return errors.New("UID FETCH expects a set and an item list")
	}
	set, err := imap.ParseSeqSet(args[0].Value)
	if err != nil {
		return err
	}

	for i, msg := range mbox.Messages {
		if !set.Contains(msg.UID) {
			continue
		}
		r.text(fmt.Sprintf("%d FETCH (UID %d", i+1, msg.UID))
		for _, item := range args[1].List {
			switch strings.ToUpper(item.Value) {
			case "UID":
			case "FLAGS":
				r.text(fmt.Sprintf(" FLAGS (%s)", strings.Join(msg.Flags, " ")))
			case "INTERNALDATE":
				r.text(fmt.Sprintf(" INTERNALDATE %s", wire.Quote(msg.Date.Format(imap.DateTimeLayout))))
			case "RFC822.SIZE":
				r.text(fmt.Sprintf(" RFC822.SIZE %d", len(msg.Raw)))
			case "BODY.PEEK[HEADER]", "BODY[HEADER]":
				r.text(" BODY[HEADER] ")
				r.literal(msg.Header())
			case "BODY.PEEK[]", "BODY[]":
				r.text(" BODY[] ")
				r.literal(msg.Raw)
			default:
				return errors.Errorf("unsupported fetch item %s", item.Value)
			}
		}
		r.text(")")
		r.end()
	}
	return nil
}

func (c *Conn) create(args []parser.Token) error {
	if len(args) != 1 {
		return errors.New("CREATE expects one argument")
	}
	name := args[0].Value
	if _, exists := c.server.Mailboxes[name]; exists {
		return errors.Errorf("mailbox %s already exists", name)
	}
	c.server.Mailboxes[name] = &Mailbox{Name: name, NextUID: 1}
	return nil
}

func (c *Conn) deleteMailbox(args []parser.Token) error {
	if len(args) != 1 {
		return errors.New("DELETE expects one argument")
	}
	name := args[0].Value
	if _, err := c.mailbox(name); err != nil {
		return err
	}
	delete(c.server.Mailboxes, name)
	if c.selected == name {
		c.selected = ""
	}
	return nil
}

func (c *Conn) rename(args []parser.Token) error {
	if len(args) != 2 {
		return errors.New("RENAME expects two arguments")
	}
	oldName, newName := args[0].Value, args[1].Value
	if _, err := c.mailbox(oldName); err != nil {
		return err
	}
	if _, exists := c.server.Mailboxes[newName]; exists {
		return errors.Errorf("mailbox %s already exists", newName)
	}
	for name, mbox := range c.server.Mailboxes {
		if name == oldName || strings.HasPrefix(name, oldName+c.server.Separator) {
			renamed := newName + strings.TrimPrefix(name, oldName)
			delete(c.server.Mailboxes, name)
			mbox.Name = renamed
			c.server.Mailboxes[renamed] = mbox
		}
	}
	return nil
}

func (c *Conn) copyMessages(args []parser.Token) error {
	src, err := c.selectedMailbox()
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return errors.New("UID COPY expects a set and a mailbox")
	}
	set, err := imap.ParseSeqSet(args[0].Value)
	if err != nil {
		return err
	}
	dst, err := c.mailbox(args[1].Value)
	if err != nil {
		return errors.Wrap(err, "[TRYCREATE]")
	}
	for _, msg := range src.Messages {
		if set.Contains(msg.UID) {
			copied := *msg
			copied.UID = dst.NextUID
			copied.Flags = append([]string{}, msg.Flags...)
			dst.NextUID++
			dst.Messages = append(dst.Messages, &copied)
		}
	}
	return nil
}

func (c *Conn) store(args []parser.Token) error {
	mbox, err := c.selectedMailbox()
	if err != nil {
		return err
	}
	if len(args) != 3 || !args[2].IsList {
		return errors.New("UID STORE expects a set, an operation and flags")
	}
	set, err := imap.ParseSeqSet(args[0].Value)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.ToUpper(args[1].Value), string(imap.AddFlags)) {
		return errors.Errorf("unsupported store operation %s", args[1].Value)
	}
	for _, msg := range mbox.Messages {
		if set.Contains(msg.UID) {
			msg.Flags = append(msg.Flags, args[2].Strings()...)
		}
	}
	return nil
}

func (c *Conn) expunge(r *reply) error {
	mbox, err := c.selectedMailbox()
	if err != nil {
		return err
	}
	kept := mbox.Messages[:0]
	for i, msg := range mbox.Messages {
		deleted := false
		for _, flag := range msg.Flags {
			if strings.EqualFold(flag, imap.DeletedFlag) {
				deleted = true
			}
		}
		if deleted {
			r.line(fmt.Sprintf("%d EXPUNGE", i+1))
			continue
		}
		kept = append(kept, msg)
	}
	mbox.Messages = kept
	return nil
}

// reply accumulates untagged responses split the way the wire reader
// splits them: a literal ends its segment and the following text starts a
// new one.
type reply struct {
	segments []parser.Segment
	cur      strings.Builder
}

func (r *reply) text(s string) {
	r.cur.WriteString(s)
}

func (r *reply) literal(payload string) {
	fmt.Fprintf(&r.cur, "{%d}", len(payload))
	r.segments = append(r.segments, parser.Segment{Text: r.cur.String(), Literals: [][]byte{[]byte(payload)}})
	r.cur.Reset()
}

func (r *reply) end() {
	if r.cur.Len() > 0 {
		r.segments = append(r.segments, parser.Segment{Text: r.cur.String()})
		r.cur.Reset()
	}
}

func (r *reply) line(s string) {
	r.text(s)
	r.end()
}

func (r *reply) ok() *wire.Reply {
	return &wire.Reply{Status: wire.StatusOK, Text: "completed", Segments: r.segments}
}

func (r *reply) no(err error) *wire.Reply {
	return &wire.Reply{Status: wire.StatusNO, Text: err.Error()}
}
