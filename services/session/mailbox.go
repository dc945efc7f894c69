package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/parser"
	"github.com/customeros/mailfs/internal/tracing"
)

// ListMailboxes returns every mailbox the server lists.
func (s *sessionService) ListMailboxes(ctx context.Context) ([]models.MailboxListing, error) {
	span, ctx := s.startSpan(ctx, "SessionService.ListMailboxes")
	defer span.Finish()

	reply, err := s.execute(ctx, "LIST", `LIST "" "*"`)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	resps, err := responses(reply)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	listings := make([]models.MailboxListing, 0, len(resps))
	for _, tokens := range resps {
		if len(tokens) == 0 || !tokens[0].Is("LIST") {
			continue
		}
		listing, err := parseListing(tokens[1:])
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		listings = append(listings, listing)
	}

	span.LogFields(tracingLog.Int("mailboxes", len(listings)))
	s.log.Debugf("listed %d mailboxes", len(listings))
	return listings, nil
}

// parseListing decodes the (attributes) separator name part of a LIST
// response. An empty quoted separator disappears during parsing, which
// leaves two tokens.
func parseListing(tokens []parser.Token) (models.MailboxListing, error) {
	var listing models.MailboxListing
	if len(tokens) < 2 || !tokens[0].IsList {
		return listing, errors.Wrapf(mailfserrors.ErrUnexpectedReply, "LIST response %v", tokens)
	}
	listing.Attributes = tokens[0].Strings()

	name := tokens[len(tokens)-1]
	if len(tokens) >= 3 {
		if sep := tokens[1]; !sep.Is("NIL") {
			listing.Separator = sep.Value
		}
	}
	if name.IsList {
		return listing, errors.Wrapf(mailfserrors.ErrUnexpectedReply, "LIST mailbox name %v", name)
	}
	listing.Name = name.Value
	if strings.EqualFold(listing.Name, imap.InboxName) {
		listing.Name = imap.InboxName
	}
	return listing, nil
}

// Select makes path the selected mailbox and returns its message count. The
// server drops any selection when SELECT fails, so a failure clears it
// here too.
func (s *sessionService) Select(ctx context.Context, path string) (uint32, error) {
	span, ctx := s.startSpan(ctx, "SessionService.Select")
	defer span.Finish()
	tracing.TagPath(span, path)
	tracing.TagMailbox(span, s.state.MailboxName(path))

	name := s.mailboxArg(path)
	reply, err := s.execute(ctx, "SELECT", "SELECT "+name)
	if err != nil {
		s.state.Selected = ""
		tracing.TraceErr(span, err)
		return 0, err
	}
	resps, err := responses(reply)
	if err != nil {
		s.state.Selected = ""
		tracing.TraceErr(span, err)
		return 0, err
	}

	var exists uint32
	for _, tokens := range resps {
		if len(tokens) >= 2 && tokens[1].Is("EXISTS") {
			if n, ok := tokens[0].Uint(); ok {
				exists = n
			}
		}
	}

	s.state.Selected = path
	span.LogFields(tracingLog.Uint32("exists", exists))
	s.log.Debugf("selected %s (%d messages)", name, exists)
	return exists, nil
}

// SearchAll returns the UIDs of every message in the selected mailbox.
func (s *sessionService) SearchAll(ctx context.Context, path string) ([]uint32, error) {
	span, ctx := s.startSpan(ctx, "SessionService.SearchAll")
	defer span.Finish()
	tracing.TagPath(span, path)

	if err := s.requireSelected(path); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	reply, err := s.execute(ctx, "SEARCH", "UID SEARCH ALL")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	resps, err := responses(reply)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	uids := []uint32{}
	for _, tokens := range resps {
		if len(tokens) == 0 || !tokens[0].Is("SEARCH") {
			continue
		}
		for _, tok := range tokens[1:] {
			uid, ok := tok.Uint()
			if !ok {
				err := errors.Wrapf(mailfserrors.ErrUnexpectedReply, "SEARCH result %q", tok.String())
				tracing.TraceErr(span, err)
				return nil, err
			}
			uids = append(uids, uid)
		}
	}

	span.LogFields(tracingLog.Int("uids", len(uids)))
	s.log.Debugf("searched %s: %d messages", path, len(uids))
	return uids, nil
}

// requireMailboxPath rejects the root, which names no mailbox.
func requireMailboxPath(path string) error {
	if path == "" {
		return errors.Wrap(mailfserrors.ErrInvalidPath, "the root is not a mailbox")
	}
	return nil
}

// CreateMailbox creates the mailbox for path.
func (s *sessionService) CreateMailbox(ctx context.Context, path string) error {
	span, ctx := s.startSpan(ctx, "SessionService.CreateMailbox")
	defer span.Finish()
	tracing.TagPath(span, path)

	if err := requireMailboxPath(path); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	name := s.mailboxArg(path)
	if _, err := s.execute(ctx, "CREATE", "CREATE "+name); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.state.InvalidateList()
	s.log.Infof("created mailbox %s", name)
	return nil
}

// DeleteMailbox deletes the mailbox for path.
func (s *sessionService) DeleteMailbox(ctx context.Context, path string) error {
	span, ctx := s.startSpan(ctx, "SessionService.DeleteMailbox")
	defer span.Finish()
	tracing.TagPath(span, path)

	if err := requireMailboxPath(path); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	name := s.mailboxArg(path)
	if _, err := s.execute(ctx, "DELETE", "DELETE "+name); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.state.InvalidateList()
	if affects(path, s.state.Selected) {
		s.state.Selected = ""
	}
	s.log.Infof("deleted mailbox %s", name)
	return nil
}

// RenameMailbox renames the mailbox for oldPath so it lives at newPath.
func (s *sessionService) RenameMailbox(ctx context.Context, oldPath, newPath string) error {
	span, ctx := s.startSpan(ctx, "SessionService.RenameMailbox")
	defer span.Finish()
	tracing.TagPath(span, oldPath)
	span.SetTag("path.new", newPath)

	if models.IsInbox(oldPath) {
		err := errors.Wrapf(mailfserrors.ErrInboxRename, "%q", oldPath)
		tracing.TraceErr(span, err)
		return err
	}
	for _, path := range []string{oldPath, newPath} {
		if err := requireMailboxPath(path); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	oldName, newName := s.mailboxArg(oldPath), s.mailboxArg(newPath)
	command := fmt.Sprintf("RENAME %s %s", oldName, newName)
	if _, err := s.execute(ctx, "RENAME", command); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.state.InvalidateList()
	if affects(oldPath, s.state.Selected) {
		s.state.Selected = ""
	}
	s.log.Infof("renamed mailbox %s to %s", oldName, newName)
	return nil
}
