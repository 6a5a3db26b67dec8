package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type MessageID string

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

var messageStatusRank = map[MessageStatus]int{
	MessageStatusSent:      0,
	MessageStatusDelivered: 1,
	MessageStatusRead:      2,
}

func (s MessageStatus) Valid() bool {
	_, ok := messageStatusRank[s]
	return ok
}

// Before reports whether s precedes other in the sent -> delivered -> read order.
func (s MessageStatus) Before(other MessageStatus) bool {
	return messageStatusRank[s] < messageStatusRank[other]
}

type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Attachments is stored as a JSON column.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		a = Attachments{}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshalling attachments: %w", err)
	}
	return string(data), nil
}

func (a *Attachments) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = Attachments{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported attachments column type %T", src)
	}
	attachments := Attachments{}
	if err := json.Unmarshal(data, &attachments); err != nil {
		return fmt.Errorf("unmarshalling attachments: %w", err)
	}
	*a = attachments
	return nil
}

// Message is the persisted record. Ciphertext and IV are never rendered.
type Message struct {
	ID          MessageID     `json:"id"`
	Sender      UserID        `json:"senderId"`
	Receiver    UserID        `json:"receiverId"`
	Ciphertext  []byte        `json:"-"`
	IV          []byte        `json:"-"`
	Attachments Attachments   `json:"attachments"`
	Status      MessageStatus `json:"status"`
	SentAt      time.Time     `json:"sentAt"`
	ReadAt      *time.Time    `json:"readAt"`
}

func (m *Message) IsParticipant(userID UserID) bool {
	return m.Sender == userID || m.Receiver == userID
}

// Counterpart returns the participant that is not userID.
func (m *Message) Counterpart(userID UserID) UserID {
	if m.Sender == userID {
		return m.Receiver
	}
	return m.Sender
}

// DecryptedMessage is a Message as returned to an authorized participant.
// DecryptError is set instead of Content when the stored body failed to decrypt.
type DecryptedMessage struct {
	*Message
	Content         string   `json:"decryptedContent"`
	DecryptError    string   `json:"decryptError,omitempty"`
	SenderProfile   *Profile `json:"senderProfile"`
	ReceiverProfile *Profile `json:"receiverProfile"`
}

type SendMessageParams struct {
	Text        string      `json:"text"`
	Attachments Attachments `json:"attachments"`
}

// Page selects up to Limit messages older than the (Before, BeforeID)
// position in sentAt desc, id desc order. BeforeID breaks ties between
// messages sent at the same instant; without it Before is exclusive.
type Page struct {
	Limit    int
	Before   *time.Time
	BeforeID MessageID
}

// Cursor is the position of the last message of a full page.
type Cursor struct {
	Before   time.Time `json:"before"`
	BeforeID MessageID `json:"beforeId"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Next returns the cursor for the page after messages, or nil when messages
// did not fill the page.
func (p Page) Next(messages []*DecryptedMessage) *Cursor {
	p = p.Normalize()
	if len(messages) == 0 || len(messages) < p.Limit {
		return nil
	}
	last := messages[len(messages)-1]
	return &Cursor{Before: last.SentAt, BeforeID: last.ID}
}
