package cache

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailfs/interfaces"
	mailfserrors "github.com/customeros/mailfs/internal/errors"
	"github.com/customeros/mailfs/internal/imaptest"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/services/session"
)

const testMessage = "From: bob@example.org\r\n" +
	"Subject: lunch\r\n" +
	"\r\n" +
	"Noon?\r\n"

type fixture struct {
	server *imaptest.Server
	state  *models.State
	cache  interfaces.CacheService
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		server: imaptest.NewServer("/"),
		state:  models.NewState(models.DefaultTTLs()),
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.state.Now = func() time.Time { return f.now }
	log := logger.NewNopLogger()
	f.cache = NewCacheService(f.state, session.NewSessionService(f.state, f.server, log), log)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestCache_DirectoriesHonorsTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.AddMailbox("Archive")

	require.NoError(t, f.cache.Directories(ctx, false))
	require.NoError(t, f.cache.Directories(ctx, false))
	assert.Equal(t, 1, f.server.Count("LIST"))

	_, ok := f.cache.Directory("Archive")
	assert.True(t, ok)
	assert.Equal(t, "/", f.state.Separator)

	f.advance(f.state.TTL.List - time.Second)
	require.NoError(t, f.cache.Directories(ctx, false))
	assert.Equal(t, 1, f.server.Count("LIST"))

	f.advance(time.Second)
	require.NoError(t, f.cache.Directories(ctx, false))
	assert.Equal(t, 2, f.server.Count("LIST"))

	require.NoError(t, f.cache.Directories(ctx, true))
	assert.Equal(t, 3, f.server.Count("LIST"))
}

func TestCache_DirectoriesKeepsTransientFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.server.AddMessage(imap.InboxName, testMessage)

	uids, err := f.cache.Search(ctx, imap.InboxName, false, false)
	require.NoError(t, err)
	require.Equal(t, []uint32{uid}, uids)

	f.server.AddMailbox("New")
	require.NoError(t, f.cache.Directories(ctx, true))

	inbox, ok := f.cache.Directory(imap.InboxName)
	require.True(t, ok)
	assert.True(t, inbox.HasUID(uid))
	assert.Equal(t, f.now, inbox.LastSearch)
	count, _ := inbox.MessageCount.Get()
	assert.Equal(t, uint32(1), count)
	_, ok = f.cache.Directory("New")
	assert.True(t, ok)
}

func TestCache_SearchSurvivesRelistDuringRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.state.TTL.List = 0
	f.state.Now = func() time.Time {
		f.advance(time.Millisecond)
		return f.now
	}
	uid := f.server.AddMessage(imap.InboxName, testMessage)

	uids, err := f.cache.Search(ctx, imap.InboxName, false, true)
	require.NoError(t, err)
	require.Equal(t, []uint32{uid}, uids)
	assert.GreaterOrEqual(t, f.server.Count("LIST"), 2)

	inbox, ok := f.cache.Directory(imap.InboxName)
	require.True(t, ok)
	assert.True(t, inbox.HasUID(uid))
	assert.True(t, f.cache.HasMessage(imap.InboxName, uid))
	assert.False(t, inbox.LastSearch.IsZero())

	require.NoError(t, f.cache.Directories(ctx, true))
	same, _ := f.cache.Directory(imap.InboxName)
	assert.Same(t, inbox, same)
}

func TestCache_DirectoriesKeepsStaleTableOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.AddMailbox("Archive")
	require.NoError(t, f.cache.Directories(ctx, false))
	listedAt := f.state.LastList

	f.server.Reject("LIST", "try later")
	err := f.cache.Directories(ctx, true)
	require.Error(t, err)
	assert.True(t, mailfserrors.IsStatusError(err))

	_, ok := f.cache.Directory("Archive")
	assert.True(t, ok)
	assert.Equal(t, listedAt, f.state.LastList)
}

func TestCache_SelectUnknownPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.cache.Select(context.Background(), "Nowhere", false)
	assert.ErrorIs(t, err, mailfserrors.ErrNotFound)
	assert.Equal(t, 0, f.server.Count("SELECT"))
}

func TestCache_SelectNotSelectable(t *testing.T) {
	f := newFixture(t)
	f.server.AddMailbox("Lists", `\Noselect`)

	_, err := f.cache.Select(context.Background(), "Lists", false)
	assert.ErrorIs(t, err, mailfserrors.ErrNotSelectable)
	assert.Equal(t, 0, f.server.Count("SELECT"))
}

func TestCache_SelectIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.AddMailbox("Archive")
	f.server.AddMessage("Archive", testMessage)

	dir, err := f.cache.Select(ctx, "Archive", false)
	require.NoError(t, err)
	count, _ := dir.MessageCount.Get()
	assert.Equal(t, uint32(1), count)

	_, err = f.cache.Select(ctx, "Archive", false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.server.Count("SELECT"))

	_, err = f.cache.Select(ctx, "Archive", true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.server.Count("SELECT"))

	f.advance(f.state.TTL.Select)
	_, err = f.cache.Select(ctx, "Archive", false)
	require.NoError(t, err)
	assert.Equal(t, 3, f.server.Count("SELECT"))
}

func TestCache_SelectSwitchesMailbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.AddMailbox("Archive")

	_, err := f.cache.Select(ctx, "Archive", false)
	require.NoError(t, err)
	_, err = f.cache.Select(ctx, imap.InboxName, false)
	require.NoError(t, err)
	_, err = f.cache.Select(ctx, "Archive", false)
	require.NoError(t, err)

	assert.Equal(t, 3, f.server.Count("SELECT"))
	assert.Equal(t, "Archive", f.server.Selected())
}

func TestCache_SearchPrefetchesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.server.AddMessage(imap.InboxName, testMessage)
	second := f.server.AddMessage(imap.InboxName, testMessage)

	uids, err := f.cache.Search(ctx, imap.InboxName, false, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{first, second}, uids)
	assert.Equal(t, 1, f.server.Count("SELECT"))
	assert.Equal(t, 1, f.server.Count("UID SEARCH"))
	assert.Equal(t, 1, f.server.Count("UID FETCH"))

	msg, ok := f.state.LookupMessage(imap.InboxName, second)
	require.True(t, ok)
	assert.True(t, msg.Size.IsSet())
	assert.True(t, f.cache.HasMessage(imap.InboxName, first))
	assert.False(t, f.cache.HasMessage(imap.InboxName, 99))

	f.server.Reset()
	_, err = f.cache.Search(ctx, imap.InboxName, false, true)
	require.NoError(t, err)
	assert.Empty(t, f.server.Commands())
}

func TestCache_SearchRefreshesAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.AddMessage(imap.InboxName, testMessage)

	_, err := f.cache.Search(ctx, imap.InboxName, false, false)
	require.NoError(t, err)
	added := f.server.AddMessage(imap.InboxName, testMessage)

	uids, err := f.cache.Search(ctx, imap.InboxName, false, false)
	require.NoError(t, err)
	assert.NotContains(t, uids, added)

	f.advance(f.state.TTL.Search)
	uids, err = f.cache.Search(ctx, imap.InboxName, false, false)
	require.NoError(t, err)
	assert.Contains(t, uids, added)
	assert.Equal(t, 2, f.server.Count("UID SEARCH"))
}

func TestCache_SearchEmptyMailboxSkipsFetch(t *testing.T) {
	f := newFixture(t)

	uids, err := f.cache.Search(context.Background(), imap.InboxName, false, true)
	require.NoError(t, err)
	assert.Empty(t, uids)
	assert.Equal(t, 0, f.server.Count("UID FETCH"))
}

func TestCache_SearchNotSelectable(t *testing.T) {
	f := newFixture(t)
	f.server.AddMailbox("Lists", `\Noselect`)

	uids, err := f.cache.Search(context.Background(), "Lists", false, true)
	require.NoError(t, err)
	assert.Empty(t, uids)
	assert.Equal(t, 0, f.server.Count("SELECT"))
}

func TestCache_MessageFetchesWithOneSelect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.server.AddMailbox("Archive")
	uid := f.server.AddMessage(imap.InboxName, testMessage)

	_, err := f.cache.Search(ctx, imap.InboxName, false, true)
	require.NoError(t, err)
	_, err = f.cache.Select(ctx, "Archive", false)
	require.NoError(t, err)
	f.server.Reset()

	msg, err := f.cache.Message(ctx, imap.InboxName, uid, models.FetchBody, false)
	require.NoError(t, err)
	body, _ := msg.Body.Get()
	assert.Equal(t, "From: bob@example.org\nSubject: lunch\n\nNoon?\n", string(body))
	assert.Equal(t, 1, f.server.Count("SELECT"))
	assert.Equal(t, 1, f.server.Count("UID FETCH"))

	f.server.Reset()
	_, err = f.cache.Message(ctx, imap.InboxName, uid, models.FetchBody, false)
	require.NoError(t, err)
	assert.Empty(t, f.server.Commands())
}

func TestCache_MessageFreshMetadataSkipsServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.server.AddMessage(imap.InboxName, testMessage)

	_, err := f.cache.Search(ctx, imap.InboxName, false, true)
	require.NoError(t, err)
	f.server.Reset()

	msg, err := f.cache.Message(ctx, imap.InboxName, uid, models.FetchMetadata, false)
	require.NoError(t, err)
	assert.Equal(t, uid, msg.UID)
	assert.Empty(t, f.server.Commands())
}

func TestCache_MessageExpunged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.server.AddMessage(imap.InboxName, testMessage)

	_, err := f.cache.Search(ctx, imap.InboxName, false, false)
	require.NoError(t, err)

	inbox, _ := f.server.Mailbox(imap.InboxName)
	inbox.Messages = nil

	_, err = f.cache.Message(ctx, imap.InboxName, uid, models.FetchBody, false)
	assert.ErrorIs(t, err, mailfserrors.ErrNotFound)
}

func TestCache_ReselectsAfterReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.server.AddMessage(imap.InboxName, testMessage)

	_, err := f.cache.Search(ctx, imap.InboxName, false, false)
	require.NoError(t, err)

	f.server.FailNext("UID FETCH")
	_, err = f.cache.Message(ctx, imap.InboxName, uid, models.FetchBody, false)
	assert.ErrorIs(t, err, mailfserrors.ErrConnectionClosed)
	assert.Equal(t, "", f.state.Selected)

	f.server.Reset()
	_, err = f.cache.Message(ctx, imap.InboxName, uid, models.FetchBody, false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.server.Dials())
	assert.Equal(t, 1, f.server.Count("SELECT"))
}

func TestCache_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.server.AddMessage(imap.InboxName, testMessage)
	f.server.AddMessage(imap.InboxName, testMessage)

	_, err := f.cache.Message(ctx, imap.InboxName, uid, models.FetchBody, false)
	require.NoError(t, err)

	stats := f.cache.Stats()
	assert.Equal(t, imap.InboxName, stats.Selected)
	assert.Equal(t, 1, stats.Directories)
	assert.Equal(t, 1, stats.Messages)
	assert.Equal(t, 1, stats.Bodies)
}
