package directory

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegram/backend/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	conn, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Db.Close() })
	require.NoError(t, conn.Migrate())

	log := logrus.New()
	log.SetOutput(io.Discard)

	return NewStore(conn.Db, DriverSQLite, log)
}

func participantIDs(conv *Conversation) []string {
	ids := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func TestCreateDirectIsIdempotentAcrossDirections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, KindDirect, first.Kind)
	assert.ElementsMatch(t, []string{"alice", "bob"}, participantIDs(first))
	for _, p := range first.Participants {
		assert.Equal(t, RoleMember, p.Role)
	}

	second, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Reversed direction finds the same conversation.
	reversed, err := store.CreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, reversed.ID)
	assert.Len(t, reversed.Participants, 2)
}

func TestCreateDirectRejectsSelfChat(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateDirect(context.Background(), "alice", "alice")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCreateDirectRequiresParticipant(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateDirect(context.Background(), "alice", "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCreateDirectConcurrentPairYieldsOneConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const attempts = 8
	ids := make([]string, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creator, other := "alice", "bob"
			if i%2 == 1 {
				creator, other = other, creator
			}
			conv, err := store.CreateDirect(ctx, creator, other)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	conv, err := store.GetConversation(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, conv.Participants, 2)
}

func TestCreateGroupDeduplicatesCreatorAndAssignsRoles(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateGroup(context.Background(), "carol", "trip planning",
		[]string{"dave", "carol", "erin", "dave"})
	require.NoError(t, err)

	assert.Equal(t, KindGroup, conv.Kind)
	assert.Equal(t, "trip planning", conv.Title)
	assert.ElementsMatch(t, []string{"carol", "dave", "erin"}, participantIDs(conv))

	for _, p := range conv.Participants {
		if p.UserID == "carol" {
			assert.Equal(t, RoleAdmin, p.Role)
		} else {
			assert.Equal(t, RoleMember, p.Role)
		}
	}
}

func TestCreateGroupRequiresParticipants(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateGroup(context.Background(), "carol", "empty", nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestAppendMessageRejectsNonParticipantWithoutPersisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, conv.ID, "mallory", "hi there", nil)
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	n, err := store.MessageCount(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAppendMessageBumpsConversationActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	newer, err := store.CreateDirect(ctx, "alice", "carol")
	require.NoError(t, err)

	// A message in the older conversation must move it back to the top.
	_, err = store.AppendMessage(ctx, older.ID, "bob", "ping", nil)
	require.NoError(t, err)

	summaries, err := store.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, older.ID, summaries[0].ID)
	assert.Equal(t, newer.ID, summaries[1].ID)

	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "ping", summaries[0].LastMessage.Body)
	assert.Nil(t, summaries[1].LastMessage)
}

func TestListForUserCountsUnread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.AppendMessage(ctx, conv.ID, "bob", "hello", nil)
		require.NoError(t, err)
	}
	// Own messages never count as unread.
	_, err = store.AppendMessage(ctx, conv.ID, "alice", "hey", nil)
	require.NoError(t, err)

	summaries, err := store.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].UnreadCount)

	_, err = store.MarkRead(ctx, conv.ID, "alice")
	require.NoError(t, err)

	summaries, err = store.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, summaries[0].UnreadCount)

	_, err = store.AppendMessage(ctx, conv.ID, "bob", "you there?", nil)
	require.NoError(t, err)

	summaries, err = store.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, summaries[0].UnreadCount)
}

func TestListMessagesPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	const total = 17
	sent := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		msg, err := store.AppendMessage(ctx, conv.ID, "alice", "note", nil)
		require.NoError(t, err)
		sent[msg.ID] = true
	}

	var collected []Message
	cursor := ""
	for {
		page, err := store.ListMessages(ctx, conv.ID, "bob", 5, cursor)
		require.NoError(t, err)
		collected = append(collected, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, collected, total)
	seen := make(map[string]bool, total)
	for i, msg := range collected {
		assert.False(t, seen[msg.ID], "duplicate message %s", msg.ID)
		seen[msg.ID] = true
		assert.True(t, sent[msg.ID], "unknown message %s", msg.ID)
		if i > 0 {
			assert.False(t, collected[i-1].CreatedAt.Before(msg.CreatedAt),
				"messages out of order at index %d", i)
		}
	}
}

func TestListMessagesClampsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		_, err = store.AppendMessage(ctx, conv.ID, "alice", "bulk", nil)
		require.NoError(t, err)
	}

	page, err := store.ListMessages(ctx, conv.ID, "alice", 500, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 50)
	assert.NotEmpty(t, page.NextCursor)
}

func TestListMessagesRejectsNonParticipant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = store.ListMessages(ctx, conv.ID, "mallory", 10, "")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
}

func TestMarkReadIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	first, err := store.MarkRead(ctx, conv.ID, "alice")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := store.MarkRead(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.False(t, second.Before(first), "read marker moved backward")
}

func TestMarkReadRejectsNonParticipant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = store.MarkRead(ctx, conv.ID, "mallory")
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
}

func TestAppendMessageStoresMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := store.AppendMessage(ctx, conv.ID, "alice", "look at this",
		[]byte(`{"attachment":"photo.jpg"}`))
	require.NoError(t, err)

	page, err := store.ListMessages(ctx, conv.ID, "bob", 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, msg.ID, page.Items[0].ID)
	assert.JSONEq(t, `{"attachment":"photo.jpg"}`, string(page.Items[0].Metadata))
}
