package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/parser"
	"github.com/customeros/mailfs/internal/tracing"
)

// staleUIDs returns the uids of path whose class data is missing or past
// its TTL. With force every uid is returned.
func (s *sessionService) staleUIDs(path string, uids []uint32, class models.FetchClass, force bool) []uint32 {
	if force {
		return uids
	}
	now := s.state.Now()
	var stale []uint32
	for _, uid := range uids {
		msg, ok := s.state.LookupMessage(path, uid)
		if !ok || msg.Stale(class, s.state.TTL, now) {
			stale = append(stale, uid)
		}
	}
	return stale
}

func (s *sessionService) NeedsFetch(path string, uids []uint32, class models.FetchClass, force bool) bool {
	return len(s.staleUIDs(path, uids, class, force)) > 0
}

// Fetch refreshes the class data of uids in path. Fresh records are
// skipped, and nothing is sent when all of them are fresh.
func (s *sessionService) Fetch(ctx context.Context, path string, uids []uint32, class models.FetchClass, force bool) error {
	span, ctx := s.startSpan(ctx, "SessionService.Fetch")
	defer span.Finish()
	tracing.TagPath(span, path)
	span.SetTag("fetch.class", class.String())

	stale := s.staleUIDs(path, uids, class, force)
	span.LogFields(tracingLog.Int("requested", len(uids)), tracingLog.Int("stale", len(stale)))
	if len(stale) == 0 {
		return nil
	}
	if err := s.requireSelected(path); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	command := fmt.Sprintf("UID FETCH %s %s", uidSet(stale), class.Items())
	reply, err := s.execute(ctx, "FETCH", command)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	resps, err := responses(reply)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	now := s.state.Now()
	fetched := 0
	for _, tokens := range resps {
		if len(tokens) < 3 || !tokens[1].Is("FETCH") || !tokens[2].IsList {
			continue
		}
		if err := s.applyFetch(path, tokens[2].List, class, now); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		fetched++
	}

	s.log.Debugf("fetched %s of %d messages in %s", class, fetched, path)
	return nil
}

// applyFetch merges the item pairs of one FETCH response into the record
// of the UID it carries.
func (s *sessionService) applyFetch(path string, items []parser.Token, class models.FetchClass, now time.Time) error {
	if len(items)%2 != 0 {
		return errors.Wrapf(mailfserrors.ErrUnexpectedReply, "odd FETCH item list %v", parser.List(items...))
	}

	var (
		uid    uint32
		hasUID bool
	)
	for i := 0; i < len(items); i += 2 {
		if items[i].Is(string(imap.FetchUid)) {
			uid, hasUID = items[i+1].Uint()
		}
	}
	if !hasUID {
		// unsolicited flag updates carry no UID
		return nil
	}

	msg := s.state.Message(path, uid)
	for i := 0; i < len(items); i += 2 {
		key := strings.ToUpper(items[i].Value)
		if key == string(imap.FetchUid) {
			continue
		}
		value := items[i+1]
		field := models.FieldValue{Atom: value.Value}
		if value.IsList {
			field = models.FieldValue{List: value.Strings()}
		}
		if err := msg.ApplyField(key, field); err != nil {
			return errors.Wrap(mailfserrors.ErrUnexpectedReply, err.Error())
		}
	}
	msg.MarkFetched(class, now)
	return nil
}

// CopyMessages copies uids from the selected src to dst.
func (s *sessionService) CopyMessages(ctx context.Context, uids []uint32, src, dst string) error {
	span, ctx := s.startSpan(ctx, "SessionService.CopyMessages")
	defer span.Finish()
	tracing.TagPath(span, src)
	span.SetTag("path.destination", dst)

	if err := s.requireSelected(src); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	command := fmt.Sprintf("UID COPY %s %s", uidSet(uids), s.mailboxArg(dst))
	if _, err := s.execute(ctx, "COPY", command); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.state.InvalidateSearch(dst)
	s.log.Infof("copied %d messages from %s to %s", len(uids), src, dst)
	return nil
}

// DeleteMessages flags uids as deleted in the selected path and expunges.
func (s *sessionService) DeleteMessages(ctx context.Context, uids []uint32, path string) error {
	span, ctx := s.startSpan(ctx, "SessionService.DeleteMessages")
	defer span.Finish()
	tracing.TagPath(span, path)

	if err := s.requireSelected(path); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	command := fmt.Sprintf("UID STORE %s %s (%s)",
		uidSet(uids), imap.FormatFlagsOp(imap.AddFlags, true), imap.DeletedFlag)
	if _, err := s.execute(ctx, "STORE", command); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if _, err := s.execute(ctx, "EXPUNGE", "EXPUNGE"); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.state.InvalidateSearch(path)
	s.log.Infof("deleted %d messages from %s", len(uids), path)
	return nil
}

// MoveMessages copies then deletes. The copy stays in place when the
// delete fails.
func (s *sessionService) MoveMessages(ctx context.Context, uids []uint32, src, dst string) error {
	span, ctx := s.startSpan(ctx, "SessionService.MoveMessages")
	defer span.Finish()
	tracing.TagPath(span, src)
	span.SetTag("path.destination", dst)

	if err := s.CopyMessages(ctx, uids, src, dst); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.DeleteMessages(ctx, uids, src); err != nil {
		s.log.Warnf("moved messages copied to %s but not removed from %s: %v", dst, src, err)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func uidSet(uids []uint32) string {
	set := new(imap.SeqSet)
	for _, uid := range uids {
		set.AddNum(uid)
	}
	return set.String()
}
