package cache

import (
	"context"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/customeros/mailfs/interfaces"
	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/tracing"
)

type cacheService struct {
	state   *models.State
	session interfaces.SessionService
	log     logger.Logger
}

// NewCacheService returns a cache over state that refreshes through
// session. Like the session, it expects callers to hold the state lock.
func NewCacheService(state *models.State, session interfaces.SessionService, log logger.Logger) interfaces.CacheService {
	return &cacheService{
		state:   state,
		session: session,
		log:     log,
	}
}

// Directories relists mailboxes when forced or when the listing is older
// than the list TTL. A failed refresh leaves the previous table in place.
func (c *cacheService) Directories(ctx context.Context, force bool) error {
	if !force && !c.state.Expired(c.state.LastList, c.state.TTL.List) {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheService.Directories")
	defer span.Finish()
	tracing.SetDefaultCacheSpanTags(ctx, span)
	span.SetTag("force", force)

	listings, err := c.session.ListMailboxes(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	now := c.state.Now()
	dirs := make(map[string]*models.Directory, len(listings))
	for _, listing := range listings {
		path := models.ParseMailboxPath(listing.Name, listing.Separator).Path()
		if path == "" {
			continue
		}
		dir, ok := c.state.Dirs[path]
		if ok {
			dir.Relist(listing, now)
		} else {
			dir = models.NewDirectory(listing, now)
		}
		dirs[path] = dir
		if listing.Separator != "" {
			c.state.Separator = listing.Separator
		}
	}

	c.state.Dirs = dirs
	c.state.LastList = now
	span.LogFields(tracingLog.Int("directories", len(dirs)))
	c.log.Debugf("directory table refreshed: %d mailboxes", len(dirs))
	return nil
}

func (c *cacheService) lookup(ctx context.Context, path string) (*models.Directory, error) {
	if err := c.Directories(ctx, false); err != nil {
		return nil, err
	}
	dir, ok := c.state.Dirs[path]
	if !ok {
		return nil, errors.Wrapf(mailfserrors.ErrNotFound, "directory %q", path)
	}
	return dir, nil
}

// Select makes sure path is the selected mailbox. SELECT is only sent when
// forced, when another mailbox is selected, or when the last selection is
// older than the select TTL.
func (c *cacheService) Select(ctx context.Context, path string, force bool) (*models.Directory, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheService.Select")
	defer span.Finish()
	tracing.SetDefaultCacheSpanTags(ctx, span)
	tracing.TagPath(span, path)

	dir, err := c.lookup(ctx, path)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if !dir.Selectable() {
		err := errors.Wrapf(mailfserrors.ErrNotSelectable, "%q", path)
		tracing.TraceErr(span, err)
		return nil, err
	}

	if force || c.state.Selected != path || c.state.Expired(dir.LastSelect, c.state.TTL.Select) {
		count, err := c.session.Select(ctx, path)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		dir.LastSelect = c.state.Now()
		dir.MessageCount.Set(count)
		span.SetTag("selected", true)
	}
	return dir, nil
}

// Search returns the UIDs of path, searching again when forced or past the
// search TTL. A refresh can prefetch metadata for every listed message.
// Mailboxes that cannot be selected hold no messages.
func (c *cacheService) Search(ctx context.Context, path string, force, fetchMeta bool) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheService.Search")
	defer span.Finish()
	tracing.SetDefaultCacheSpanTags(ctx, span)
	tracing.TagPath(span, path)

	dir, err := c.lookup(ctx, path)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if !dir.Selectable() {
		return []uint32{}, nil
	}

	if force || c.state.Expired(dir.LastSearch, c.state.TTL.Search) {
		if dir, err = c.Select(ctx, path, false); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		uids, err := c.session.SearchAll(ctx, path)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		dir.UIDs.Set(uids)
		dir.LastSearch = c.state.Now()
		for _, uid := range uids {
			c.state.Message(path, uid)
		}

		if fetchMeta && c.session.NeedsFetch(path, uids, models.FetchMetadata, false) {
			if err := c.session.Fetch(ctx, path, uids, models.FetchMetadata, false); err != nil {
				tracing.TraceErr(span, err)
				return nil, err
			}
		}
	}

	uids, _ := dir.UIDs.Get()
	span.LogFields(tracingLog.Int("uids", len(uids)))
	return uids, nil
}

// Message returns the record for uid with fresh class data, fetching it
// when missing or stale.
func (c *cacheService) Message(ctx context.Context, path string, uid uint32, class models.FetchClass, force bool) (*models.Message, error) {
	if !c.session.NeedsFetch(path, []uint32{uid}, class, force) {
		msg, _ := c.state.LookupMessage(path, uid)
		return msg, nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheService.Message")
	defer span.Finish()
	tracing.SetDefaultCacheSpanTags(ctx, span)
	tracing.TagPath(span, path)
	span.SetTag("uid", uid)
	span.SetTag("fetch.class", class.String())

	if _, err := c.Select(ctx, path, false); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	started := c.state.Now()
	if err := c.session.Fetch(ctx, path, []uint32{uid}, class, force); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// a message expunged behind our back yields no FETCH response
	msg, ok := c.state.LookupMessage(path, uid)
	if !ok || msg.Fetched(class).Before(started) {
		err := errors.Wrapf(mailfserrors.ErrNotFound, "message %d in %q", uid, path)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return msg, nil
}

func (c *cacheService) Directory(path string) (*models.Directory, bool) {
	return c.state.Directory(path)
}

func (c *cacheService) ChildNames(path string) []string {
	return c.state.ChildNames(path)
}

func (c *cacheService) IsPrefix(path string) bool {
	return c.state.IsPrefix(path)
}

// HasMessage reports whether the last search of path listed uid.
func (c *cacheService) HasMessage(path string, uid uint32) bool {
	dir, ok := c.state.Directory(path)
	return ok && dir.HasUID(uid)
}

func (c *cacheService) Stats() models.Snapshot {
	return c.state.Snapshot()
}
