package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional(t *testing.T) {
	var o Optional[uint32]
	_, ok := o.Get()
	assert.False(t, ok)
	assert.Equal(t, uint32(7), o.OrElse(7))

	o.Set(0)
	v, ok := o.Get()
	assert.True(t, ok)
	assert.Equal(t, uint32(0), v)
	assert.True(t, o.IsSet())
}

func TestMessage_ApplyField(t *testing.T) {
	msg := NewMessage(5)

	require.NoError(t, msg.ApplyField("FLAGS", FieldValue{List: []string{`\Seen`}}))
	require.NoError(t, msg.ApplyField("INTERNALDATE", FieldValue{Atom: " 7-Jul-1996 02:44:25 -0700"}))
	require.NoError(t, msg.ApplyField("RFC822.SIZE", FieldValue{Atom: "4286"}))
	require.NoError(t, msg.ApplyField("BODY[HEADER]", FieldValue{Atom: "Subject: hi\n\n"}))
	require.NoError(t, msg.ApplyField("X-UNKNOWN", FieldValue{Atom: "ignored"}))

	flags, _ := msg.Flags.Get()
	assert.Equal(t, []string{`\Seen`}, flags)
	date, _ := msg.InternalDate.Get()
	assert.Equal(t, 1996, date.Year())
	assert.Equal(t, 7, date.Day())
	assert.Equal(t, uint64(4286+len("Subject: hi\n\n")), msg.FileSize())
	assert.False(t, msg.Body.IsSet())

	require.NoError(t, msg.ApplyField("BODY[]", FieldValue{Atom: "full"}))
	body, _ := msg.Body.Get()
	assert.Equal(t, []byte("full"), body)
}

func TestMessage_ApplyFieldRejectsGarbage(t *testing.T) {
	msg := NewMessage(1)
	assert.Error(t, msg.ApplyField("RFC822.SIZE", FieldValue{Atom: "big"}))
	assert.Error(t, msg.ApplyField("INTERNALDATE", FieldValue{Atom: "yesterday"}))
}

func TestMessage_Stale(t *testing.T) {
	ttl := DefaultTTLs()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := NewMessage(1)

	assert.True(t, msg.Stale(FetchMetadata, ttl, now))

	msg.MarkFetched(FetchMetadata, now)
	assert.False(t, msg.Stale(FetchMetadata, ttl, now.Add(23*time.Hour)))
	assert.True(t, msg.Stale(FetchMetadata, ttl, now.Add(24*time.Hour)))
	assert.True(t, msg.Stale(FetchBody, ttl, now))
	assert.Equal(t, now, msg.Fetched(FetchMetadata))
}

func TestFetchClass(t *testing.T) {
	assert.Equal(t, "(UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER])", FetchMetadata.Items())
	assert.Equal(t, "(UID BODY.PEEK[])", FetchBody.Items())
	assert.Equal(t, "metadata", FetchMetadata.String())
	assert.Equal(t, "body", FetchBody.String())
	assert.Equal(t, 7*24*time.Hour, FetchBody.TTL(DefaultTTLs()))
}
