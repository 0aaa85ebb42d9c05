package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/storage"
)

func newStore(t *testing.T, uploads remotestore.Uploads) *Store {
	t.Helper()
	s, err := Open(":memory:", Options{Uploads: uploads})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertUserIsKeyedByLowercaseAddress(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	id, err := s.UpsertUser(ctx, "0xAbC123", "alice.eth", "InboxA")
	require.NoError(t, err)
	again, err := s.UpsertUser(ctx, "0xabc123", "", "inboxa")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	u, err := s.GetUserByAddress(ctx, "0xABC123")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", u.Address)
	assert.Empty(t, u.ENSName, "an empty ens name clears the stored one")
	assert.Equal(t, "inboxa", u.InboxID)

	byInbox, err := s.GetUserByInboxID(ctx, "INBOXA")
	require.NoError(t, err)
	assert.Equal(t, id, byInbox.ID)

	_, err = s.GetUserByAddress(ctx, "0xmissing")
	assert.ErrorIs(t, err, remotestore.ErrNotFound)
	_, err = s.UpsertUser(ctx, " ", "", "")
	assert.ErrorIs(t, err, remotestore.ErrInvalidArgument)
}

func TestUpsertConversationIsIdempotent(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	first, err := s.UpsertConversation(ctx, []string{"0xBBB", "0xaaa"})
	require.NoError(t, err)
	second, err := s.UpsertConversation(ctx, []string{"0xAAA", "0xbbb"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	list, err := s.GetConversationsForAddress(ctx, "0xAaA")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0xaaa:0xbbb", list[0].Key)
	assert.Equal(t, []string{"0xBBB", "0xaaa"}, list[0].Participants)
	assert.Equal(t, "0xBBB", list[0].Counterpart("0xAAA"))

	_, err = s.UpsertConversation(ctx, nil)
	assert.ErrorIs(t, err, remotestore.ErrInvalidArgument)
}

func TestConversationsForAddressOrderAndLastMessage(t *testing.T) {
	now := time.Unix(1000, 0)
	s, err := Open(":memory:", Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, err = s.UpsertConversation(ctx, []string{"me", "bob"})
	require.NoError(t, err)
	now = now.Add(time.Minute)
	_, err = s.UpsertConversation(ctx, []string{"me", "carol"})
	require.NoError(t, err)
	_, err = s.UpsertConversation(ctx, []string{"dave", "erin"})
	require.NoError(t, err)

	now = now.Add(time.Minute)
	require.NoError(t, s.UpdateLastMessage(ctx, remotestore.CanonicalKey([]string{"me", "bob"}), "hi bob"))
	assert.ErrorIs(t, s.UpdateLastMessage(ctx, "nobody:else", "x"), remotestore.ErrNotFound)

	list, err := s.GetConversationsForAddress(ctx, "me")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bob:me", list[0].Key)
	assert.Equal(t, "hi bob", list[0].LastMessage)
	assert.Equal(t, now.UTC(), list[0].UpdatedAt)
	assert.Equal(t, "carol:me", list[1].Key)

	none, err := s.GetConversationsForAddress(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateProfileLeavesNilFieldsUntouched(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	userID, err := s.UpsertUser(ctx, "0xabc", "", "inbox-1")
	require.NoError(t, err)

	pid, err := s.UpdateProfile(ctx, userID, remotestore.ProfileUpdate{
		DisplayName: remotestore.StringPtr("Alice"),
		Bio:         remotestore.StringPtr("hello"),
	})
	require.NoError(t, err)

	again, err := s.UpdateProfile(ctx, userID, remotestore.ProfileUpdate{AvatarURL: remotestore.StringPtr("https://x/a.png")})
	require.NoError(t, err)
	assert.Equal(t, pid, again)

	p, err := s.GetProfileByAddress(ctx, "0xABC")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "hello", p.Bio)
	assert.Equal(t, "https://x/a.png", p.AvatarURL)
	assert.Equal(t, userID, p.UserID)

	_, err = s.UpdateProfile(ctx, userID, remotestore.ProfileUpdate{Bio: remotestore.StringPtr("")})
	require.NoError(t, err)
	p, err = s.GetProfileByAddress(ctx, "0xabc")
	require.NoError(t, err)
	assert.Empty(t, p.Bio)
	assert.Equal(t, "Alice", p.DisplayName)

	_, err = s.UpdateProfile(ctx, "missing-user", remotestore.ProfileUpdate{})
	assert.ErrorIs(t, err, remotestore.ErrNotFound)
}

func TestProfileWithoutRecordIsNotFound(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	_, err := s.GetProfileByAddress(ctx, "0xnobody")
	assert.ErrorIs(t, err, remotestore.ErrNotFound)

	_, err = s.UpsertUser(ctx, "0xnoprofile", "", "")
	require.NoError(t, err)
	_, err = s.GetProfileByAddress(ctx, "0xnoprofile")
	assert.ErrorIs(t, err, remotestore.ErrNotFound)
}

func newUploads(t *testing.T) *storage.Uploads {
	t.Helper()
	blobs, err := storage.NewBlobStore("", storage.BlobOptions{})
	require.NoError(t, err)
	u, err := storage.NewUploads(blobs, storage.UploadOptions{BaseURL: "http://local", Secret: "s"})
	require.NoError(t, err)
	return u
}

func TestAvatarHydratedFromStorageID(t *testing.T) {
	uploads := newUploads(t)
	s := newStore(t, uploads)
	ctx := context.Background()

	meta, err := uploads.Store().Put("image/png", []byte("png"))
	require.NoError(t, err)
	userID, err := s.UpsertUser(ctx, "0xabc", "", "inbox-1")
	require.NoError(t, err)
	_, err = s.UpdateProfile(ctx, userID, remotestore.ProfileUpdate{
		AvatarURL:       remotestore.StringPtr("https://stale/url.png"),
		AvatarStorageID: remotestore.StringPtr(meta.ID),
	})
	require.NoError(t, err)

	p, err := s.GetProfileByAddress(ctx, "0xabc")
	require.NoError(t, err)
	assert.Contains(t, p.AvatarURL, "http://local/blobs/"+meta.ID+"?")
	assert.Equal(t, meta.ID, p.AvatarStorageID)

	peers, err := s.GetProfilesForInboxIDs(ctx, []string{"inbox-1", "inbox-unknown"})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Contains(t, peers["inbox-1"].AvatarURL, "/blobs/"+meta.ID)
}

func TestProfilesForInboxIDsOmitsMissing(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	a, err := s.UpsertUser(ctx, "0xa", "", "inbox-a")
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, "0xb", "", "inbox-b")
	require.NoError(t, err)
	_, err = s.UpdateProfile(ctx, a, remotestore.ProfileUpdate{DisplayName: remotestore.StringPtr("A")})
	require.NoError(t, err)

	peers, err := s.GetProfilesForInboxIDs(ctx, []string{"inbox-a", "inbox-b", "inbox-c"})
	require.NoError(t, err)
	assert.Len(t, peers, 1)
	assert.Equal(t, "A", peers["inbox-a"].DisplayName)

	empty, err := s.GetProfilesForInboxIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUploadsDisabledWithoutBackend(t *testing.T) {
	s := newStore(t, nil)
	_, err := s.GenerateUploadURL(context.Background())
	assert.ErrorIs(t, err, ErrUploadsDisabled)
	_, err = s.GetURLForStorageID(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUploadsDisabled)
}
