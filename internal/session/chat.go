package session

import (
	"time"

	"github.com/EdwinAdvine/liveroom/internal/signaling"
)

// ChatMessage is one entry in the room's chat log.
type ChatMessage struct {
	FromPeer  string
	FromName  string
	Content   string
	Timestamp time.Time
}

// ChatRelay passes chat through the signaling channel and keeps an
// append-only log ordered by arrival. There is no delivery acknowledgment
// and no dedup: the signaling service is assumed not to replay.
type ChatRelay struct {
	send     func(signaling.Message)
	selfID   string
	selfName string
	log      []ChatMessage
}

func NewChatRelay(send func(signaling.Message), selfName string) *ChatRelay {
	return &ChatRelay{send: send, selfName: selfName}
}

// SetSelfID records our id so locally sent messages carry it in the log.
func (c *ChatRelay) SetSelfID(id string) {
	c.selfID = id
}

// Send transmits a chat message and appends it locally; our own messages
// are not echoed back by the server.
func (c *ChatRelay) Send(content string) (ChatMessage, bool) {
	if content == "" {
		return ChatMessage{}, false
	}
	now := time.Now()
	c.send(signaling.MustMessage(signaling.MessageTypeChat, "",
		signaling.ChatPayload{Content: content, FromName: c.selfName, Timestamp: now}))
	msg := ChatMessage{
		FromPeer:  c.selfID,
		FromName:  c.selfName,
		Content:   content,
		Timestamp: now,
	}
	c.log = append(c.log, msg)
	return msg, true
}

// Receive appends an inbound message.
func (c *ChatRelay) Receive(ev signaling.ChatEvent) ChatMessage {
	msg := ChatMessage{
		FromPeer:  ev.FromPeer,
		FromName:  ev.FromName,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
	}
	c.log = append(c.log, msg)
	return msg
}

// History returns a copy of the log in arrival order.
func (c *ChatRelay) History() []ChatMessage {
	out := make([]ChatMessage, len(c.log))
	copy(out, c.log)
	return out
}

func (c *ChatRelay) Len() int {
	return len(c.log)
}
