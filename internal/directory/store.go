package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	defaultPageSize = 30
	maxPageSize     = 50
)

// Store is the durable conversation directory. It is the single source
// of truth shared by the websocket layer and the REST handlers.
type Store struct {
	db     *sql.DB
	driver string
	log    *logrus.Logger
}

func NewStore(db *sql.DB, driver string, log *logrus.Logger) *Store {
	return &Store{db: db, driver: driver, log: log}
}

// sqliteTimeLayout is fixed-width with an explicit offset so stored
// text timestamps compare lexicographically in chronological order.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000+00:00"

// bindTime normalizes a timestamp for the active driver. SQLite gets a
// fixed-width UTC string; postgres takes time.Time natively.
func (s *Store) bindTime(v time.Time) any {
	if s.driver == DriverSQLite {
		return v.UTC().Format(sqliteTimeLayout)
	}
	return v.UTC()
}

// rebind rewrites ? placeholders into $n for the postgres driver so a
// single SQL text serves both backends.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DirectKey is the canonical identity of a DIRECT conversation: the
// sorted user pair. A UNIQUE constraint on it makes concurrent
// find-or-create race-safe.
func DirectKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

// CreateDirect finds or creates the single DIRECT conversation for the
// pair {creator, other}. Calling it twice, in either direction, yields
// the same conversation.
func (s *Store) CreateDirect(ctx context.Context, creatorID, otherID string) (*Conversation, error) {
	if otherID == "" {
		return nil, validationf("participant user id is required for a direct conversation")
	}
	if otherID == creatorID {
		return nil, validationf("cannot create a direct conversation with yourself")
	}

	key := DirectKey(creatorID, otherID)
	if conv, err := s.findDirectByKey(ctx, key); err != nil {
		return nil, err
	} else if conv != nil {
		return conv, nil
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, kind, title, direct_key, created_at, updated_at)
		 VALUES (?, ?, NULL, ?, ?, ?)`), id, KindDirect, key, s.bindTime(now), s.bindTime(now))
	if err == nil {
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO participants (conversation_id, user_id, role, joined_at)
			 VALUES (?, ?, ?, ?), (?, ?, ?, ?)`),
			id, creatorID, RoleMember, s.bindTime(now),
			id, otherID, RoleMember, s.bindTime(now))
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		// A concurrent create for the same pair trips the UNIQUE
		// constraint on direct_key; the winner's row is the answer.
		if conv, findErr := s.findDirectByKey(ctx, key); findErr == nil && conv != nil {
			return conv, nil
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"conversation_id": id,
		"creator_id":      creatorID,
	}).Info("direct conversation created")

	return s.GetConversation(ctx, id)
}

// CreateGroup creates a GROUP conversation. The creator is folded into
// the participant list, deduplicated, and becomes the only ADMIN.
func (s *Store) CreateGroup(ctx context.Context, creatorID, title string, memberIDs []string) (*Conversation, error) {
	if len(memberIDs) == 0 {
		return nil, validationf("participant user ids are required for a group conversation")
	}

	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" {
			return nil, validationf("participant user id must not be empty")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, kind, title, direct_key, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, ?, ?)`), id, KindGroup, nullString(title), s.bindTime(now), s.bindTime(now)); err != nil {
		return nil, err
	}
	for _, userID := range members {
		role := RoleMember
		if userID == creatorID {
			role = RoleAdmin
		}
		if _, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO participants (conversation_id, user_id, role, joined_at)
			 VALUES (?, ?, ?, ?)`), id, userID, role, s.bindTime(now)); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"conversation_id": id,
		"creator_id":      creatorID,
		"participants":    len(members),
	}).Info("group conversation created")

	return s.GetConversation(ctx, id)
}

// GetConversation loads one conversation with its full participant set.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, kind, title, created_at, updated_at FROM conversations WHERE id=?`), id)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if conv.Participants, err = s.listParticipants(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser returns the caller's conversations, most recently active
// first, annotated with unread counts and the latest message.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT c.id, c.kind, c.title, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN participants p ON p.conversation_id = c.id
		 WHERE p.user_id = ?
		 ORDER BY c.updated_at DESC, c.id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		if conv.Participants, err = s.listParticipants(ctx, conv.ID); err != nil {
			return nil, err
		}

		var lastReadAt *time.Time
		for _, p := range conv.Participants {
			if p.UserID == userID {
				lastReadAt = p.LastReadAt
				break
			}
		}

		unread, err := s.countUnread(ctx, conv.ID, userID, lastReadAt)
		if err != nil {
			return nil, err
		}
		last, err := s.lastMessage(ctx, conv.ID)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, Summary{
			Conversation: *conv,
			UnreadCount:  unread,
			LastMessage:  last,
		})
	}
	return summaries, nil
}

// IsParticipant is the authorization primitive for every mutating
// operation. It is consulted fresh on each call, never cached, because
// membership can change between a room join and a later send.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=?`),
		conversationID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendMessage persists a message and bumps the conversation's
// updated_at in the same transaction, so inbox ordering reflects the
// new activity immediately.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, body string, metadata json.RawMessage) (*Message, error) {
	if body == "" {
		return nil, validationf("message body is required")
	}

	ok, err := s.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO messages (id, conversation_id, sender_id, body, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, nullRaw(msg.Metadata), s.bindTime(msg.CreatedAt)); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE conversations SET updated_at=? WHERE id=?`), s.bindTime(msg.CreatedAt), conversationID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages pages backward through history, newest first. A cursor
// returns messages strictly older than the cursor message.
func (s *Store) ListMessages(ctx context.Context, conversationID, userID string, limit int, cursorMessageID string) (*Page, error) {
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var rows *sql.Rows
	if cursorMessageID != "" {
		var cursorAt time.Time
		err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT created_at FROM messages WHERE id=? AND conversation_id=?`),
			cursorMessageID, conversationID).Scan(&cursorAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		rows, err = s.db.QueryContext(ctx, s.rebind(
			`SELECT id, conversation_id, sender_id, body, metadata, created_at
			 FROM messages
			 WHERE conversation_id=? AND (created_at < ? OR (created_at = ? AND id < ?))
			 ORDER BY created_at DESC, id DESC
			 LIMIT ?`), conversationID, s.bindTime(cursorAt), s.bindTime(cursorAt), cursorMessageID, limit)
		if err != nil {
			return nil, err
		}
	} else {
		rows, err = s.db.QueryContext(ctx, s.rebind(
			`SELECT id, conversation_id, sender_id, body, metadata, created_at
			 FROM messages
			 WHERE conversation_id=?
			 ORDER BY created_at DESC, id DESC
			 LIMIT ?`), conversationID, limit)
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	page := &Page{Items: []Message{}}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Items) == limit {
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// MarkRead advances the caller's read marker to now. The marker only
// ever moves forward; a stale write is silently absorbed and the
// effective value is returned.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, ErrForbidden
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE participants SET last_read_at=?
		 WHERE conversation_id=? AND user_id=?
		   AND (last_read_at IS NULL OR last_read_at < ?)`),
		s.bindTime(now), conversationID, userID, s.bindTime(now)); err != nil {
		return time.Time{}, err
	}

	var readAt time.Time
	if err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT last_read_at FROM participants WHERE conversation_id=? AND user_id=?`),
		conversationID, userID).Scan(&readAt); err != nil {
		return time.Time{}, err
	}
	return readAt.UTC(), nil
}

// MessageCount reports how many messages a conversation holds.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM messages WHERE conversation_id=?`), conversationID).Scan(&n)
	return n, err
}

func (s *Store) findDirectByKey(ctx context.Context, key string) (*Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id FROM conversations WHERE direct_key=?`), key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

func (s *Store) listParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT user_id, role, joined_at, last_read_at
		 FROM participants WHERE conversation_id=? ORDER BY joined_at, user_id`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var lastRead sql.NullTime
		if err := rows.Scan(&p.UserID, &p.Role, &p.JoinedAt, &lastRead); err != nil {
			return nil, err
		}
		p.JoinedAt = p.JoinedAt.UTC()
		if lastRead.Valid {
			t := lastRead.Time.UTC()
			p.LastReadAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) countUnread(ctx context.Context, conversationID, userID string, lastReadAt *time.Time) (int, error) {
	var n int
	var err error
	if lastReadAt == nil {
		err = s.db.QueryRowContext(ctx, s.rebind(
			`SELECT COUNT(1) FROM messages WHERE conversation_id=? AND sender_id<>?`),
			conversationID, userID).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, s.rebind(
			`SELECT COUNT(1) FROM messages WHERE conversation_id=? AND sender_id<>? AND created_at>?`),
			conversationID, userID, s.bindTime(*lastReadAt)).Scan(&n)
	}
	return n, err
}

func (s *Store) lastMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, conversation_id, sender_id, body, metadata, created_at
		 FROM messages WHERE conversation_id=?
		 ORDER BY created_at DESC, id DESC LIMIT 1`), conversationID)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	if err := row.Scan(&conv.ID, &conv.Kind, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Title = title.String
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	return &conv, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var metadata sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if metadata.Valid {
		msg.Metadata = json.RawMessage(metadata.String)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
