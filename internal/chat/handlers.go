package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pulsegram/backend/internal/directory"
)

// dispatch routes one inbound frame to its handler and adapts the
// handler's (result, error) to the wire: an ack goes back to the caller
// when the frame carried a correlation id, and only to the caller.
// Handler failures never close the connection.
func (h *Hub) dispatch(c *Client, frame Frame) {
	ctx := context.Background()

	var result any
	var err error

	switch frame.Event {
	case EventRoomJoin:
		result, err = h.handleRoomJoin(ctx, c, frame.Data)
	case EventRoomLeave:
		result, err = h.handleRoomLeave(c, frame.Data)
	case EventTyping:
		result, err = h.handleTyping(c, frame.Data)
	case EventMessageSend:
		result, err = h.handleMessageSend(ctx, c, frame.Data)
	case EventRead:
		result, err = h.handleRead(ctx, c, frame.Data)
	case EventPresenceCheck:
		result, err = h.handlePresenceCheck(ctx, c, frame.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", directory.ErrValidation, frame.Event)
	}

	if err != nil {
		h.log.WithFields(logrus.Fields{
			"user_id": c.UserID,
			"conn_id": c.ID,
			"event":   frame.Event,
		}).WithError(err).Warn("event handler failed")
	}

	if frame.ID == "" {
		return
	}
	ack := Ack{OK: err == nil, Result: result}
	if err != nil {
		ack.Error = publicError(err)
	}
	payload, encErr := encodeFrame(EventAck, frame.ID, ack)
	if encErr != nil {
		h.log.WithError(encErr).Error("encode ack")
		return
	}
	c.enqueue(payload)
}

// publicError keeps internal failure detail out of the wire; taxonomy
// errors pass through verbatim.
func publicError(err error) string {
	switch {
	case directory.IsValidation(err), directory.IsForbidden(err), directory.IsNotFound(err):
		return err.Error()
	default:
		return "internal error"
	}
}

func (h *Hub) handleRoomJoin(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", directory.ErrValidation)
	}

	ok, err := h.directory.IsParticipant(ctx, p.ConversationID, c.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, directory.ErrForbidden
	}

	h.join(p.ConversationID, c)
	return roomPayload{ConversationID: p.ConversationID}, nil
}

func (h *Hub) handleRoomLeave(c *Client, data json.RawMessage) (any, error) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", directory.ErrValidation)
	}

	h.leave(p.ConversationID, c)
	return roomPayload{ConversationID: p.ConversationID}, nil
}

// handleTyping relays without persistence and without re-checking
// membership; the check happened at join time and the signal is cheap
// and lossy by design.
func (h *Hub) handleTyping(c *Client, data json.RawMessage) (any, error) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", directory.ErrValidation)
	}

	h.broadcastRoom(p.ConversationID, EventTyping, typingEvent{
		ConversationID: p.ConversationID,
		UserID:         c.UserID,
		IsTyping:       p.IsTyping,
	}, c)
	return nil, nil
}

// handleMessageSend persists first, then fans out the persisted row to
// the whole room, the sender's other tabs included. Anything a client
// receives has already survived to durable storage.
func (h *Hub) handleMessageSend(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", directory.ErrValidation)
	}

	msg, err := h.directory.AppendMessage(ctx, p.ConversationID, c.UserID, p.Body, p.Metadata)
	if err != nil {
		return nil, err
	}

	h.broadcastRoom(p.ConversationID, EventMessageNew, msg, nil)
	return msg, nil
}

// handleRead advances the read marker and tells everyone else in the
// room; read receipts are informative, not self-targeted.
func (h *Hub) handleRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", directory.ErrValidation)
	}

	readAt, err := h.directory.MarkRead(ctx, p.ConversationID, c.UserID)
	if err != nil {
		return nil, err
	}

	update := readUpdateEvent{
		ConversationID: p.ConversationID,
		UserID:         c.UserID,
		LastReadAt:     readAt,
	}
	h.broadcastRoom(p.ConversationID, EventReadUpdate, update, c)
	return update, nil
}

// handlePresenceCheck is a pure read; the answer goes to the caller
// only, never into a room.
func (h *Hub) handlePresenceCheck(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p presenceCheckPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", directory.ErrValidation)
	}

	online, err := h.presence.IsOnline(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	status := presenceStatus{UserID: p.UserID, Online: online}
	if !online {
		if status.LastSeen, err = h.presence.LastSeen(ctx, p.UserID); err != nil {
			return nil, err
		}
	}
	return status, nil
}
