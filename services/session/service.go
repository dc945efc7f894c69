package session

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailfs/interfaces"
	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/parser"
	"github.com/customeros/mailfs/internal/tracing"
	"github.com/customeros/mailfs/internal/utils"
	"github.com/customeros/mailfs/internal/wire"
)

type sessionService struct {
	id     string
	state  *models.State
	dialer interfaces.Dialer
	conn   interfaces.IMAPConn
	log    logger.Logger
}

// NewSessionService creates a session bound to state. No connection is
// opened until the first command.
func NewSessionService(state *models.State, dialer interfaces.Dialer, log logger.Logger) interfaces.SessionService {
	id := utils.GenerateSessionID()
	return &sessionService{
		id:     id,
		state:  state,
		dialer: dialer,
		log:    log.With(zap.String("sessionId", id)),
	}
}

func (s *sessionService) startSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	ctx = utils.WithSessionID(ctx, s.id)
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	tracing.SetDefaultSessionSpanTags(ctx, span)
	return span, ctx
}

// connection returns the live connection, dialing a new one when the
// previous one was dropped.
func (s *sessionService) connection(ctx context.Context) (interfaces.IMAPConn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	s.log.Info("connecting to server")
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.state.Selected = ""
	return conn, nil
}

// drop discards a broken connection. The server side selection died with
// it.
func (s *sessionService) drop(err error) {
	s.log.Warnf("dropping connection: %v", err)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.state.Selected = ""
}

// execute runs command and turns a non-OK completion into a StatusError.
// name is the command verb used in errors and logs.
func (s *sessionService) execute(ctx context.Context, name, command string) (*wire.Reply, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := conn.Execute(ctx, command)
	if err != nil {
		s.drop(err)
		return nil, errors.Wrapf(err, "%s", name)
	}
	if !reply.OK() {
		return reply, &mailfserrors.StatusError{Command: name, Status: reply.Status, Text: reply.Text}
	}
	return reply, nil
}

// responses resolves the untagged data responses of a reply into token
// sequences. Untagged status responses carry free text and are skipped.
func responses(reply *wire.Reply) ([][]parser.Token, error) {
	folded := parser.Fold(reply.Segments)
	data := make([]parser.Segment, 0, len(folded))
	for _, seg := range folded {
		if !isStatusResponse(seg.Text) {
			data = append(data, seg)
		}
	}
	return parser.Resolve(data)
}

func isStatusResponse(text string) bool {
	word, _, _ := strings.Cut(text, " ")
	switch strings.ToUpper(word) {
	case wire.StatusOK, wire.StatusNO, wire.StatusBAD, wire.StatusBYE, "PREAUTH":
		return true
	}
	return false
}

// mailboxArg is the quoted server name for a filesystem path.
func (s *sessionService) mailboxArg(path string) string {
	return wire.Quote(s.state.MailboxName(path))
}

func (s *sessionService) requireSelected(path string) error {
	if s.state.Selected != path {
		return errors.Wrapf(mailfserrors.ErrNotSelected, "%q", path)
	}
	return nil
}

// affects reports whether an operation on path touches the mailbox at
// other, including mailboxes nested below path.
func affects(path, other string) bool {
	return other == path || strings.HasPrefix(other, path+"/")
}

func (s *sessionService) Noop(ctx context.Context) error {
	span, ctx := s.startSpan(ctx, "SessionService.Noop")
	defer span.Finish()

	if _, err := s.execute(ctx, "NOOP", "NOOP"); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Close logs out and closes the connection, if one is open.
func (s *sessionService) Close(ctx context.Context) error {
	span, ctx := s.startSpan(ctx, "SessionService.Close")
	defer span.Finish()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Logout(ctx)
	s.conn = nil
	s.state.Selected = ""
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Info("logged out")
	return nil
}
