package message

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.courier/internal/model"
	"uk.co.dudmesh.courier/internal/notify"
)

type Cipher interface {
	Encrypt(plaintext string) ([]byte, []byte, error)
	Decrypt(ciphertext, iv []byte) (string, error)
}

type Store interface {
	InsertMessage(ctx context.Context, message *model.Message) error
	FetchMessage(ctx context.Context, messageID model.MessageID) (*model.Message, error)
	Conversation(ctx context.Context, a, b model.UserID, page model.Page) ([]*model.Message, error)
	MarkMessageRead(ctx context.Context, messageID model.MessageID, at time.Time) (bool, error)
	MarkMessageDelivered(ctx context.Context, messageID model.MessageID) (bool, error)
	DeleteMessage(ctx context.Context, messageID model.MessageID) error
}

type UserResolver interface {
	Fetch(ctx context.Context, userID model.UserID) (*model.User, error)
}

type Notifier interface {
	Publish(userID model.UserID, ev notify.Event) int
}

// DecryptFailedMarker replaces the content of a listed message whose body
// could not be decrypted.
const DecryptFailedMarker = "message could not be decrypted"

type service struct {
	cipher   Cipher
	store    Store
	users    UserResolver
	notifier Notifier
	now      func() time.Time
}

func New(cipher Cipher, store Store, users UserResolver, notifier Notifier) *service {
	return &service{
		cipher:   cipher,
		store:    store,
		users:    users,
		notifier: notifier,
		now:      time.Now,
	}
}

// Send encrypts text and stores a new message from senderID to receiverID.
// Nothing is persisted when validation or receiver resolution fails.
func (s *service) Send(ctx context.Context, senderID, receiverID model.UserID, params *model.SendMessageParams) (model.MessageID, error) {
	if receiverID == "" {
		return "", model.Validation("receiver id is required")
	}
	if params.Text == "" && len(params.Attachments) == 0 {
		return "", model.Validation("message must contain text or an attachment")
	}
	for _, a := range params.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return "", model.Validation("attachment url is required")
		}
	}
	if senderID == receiverID {
		return "", model.Validation("cannot send a message to yourself")
	}

	if _, err := s.users.Fetch(ctx, receiverID); err != nil {
		return "", err
	}

	ciphertext, iv, err := s.cipher.Encrypt(params.Text)
	if err != nil {
		return "", model.Internal("failed to send message", err)
	}

	message := &model.Message{
		ID:          model.MessageID(model.CreateID()),
		Sender:      senderID,
		Receiver:    receiverID,
		Ciphertext:  ciphertext,
		IV:          iv,
		Attachments: params.Attachments,
		Status:      model.MessageStatusSent,
		SentAt:      s.now().UTC(),
	}
	if message.Attachments == nil {
		message.Attachments = model.Attachments{}
	}

	if err := s.store.InsertMessage(ctx, message); err != nil {
		return "", model.Internal("failed to send message", err)
	}

	s.notifier.Publish(receiverID, notify.Event{
		Type: notify.EventNewMessage,
		Data: notify.MessagePreview{
			MessageID:   message.ID,
			Sender:      message.Sender,
			Receiver:    message.Receiver,
			SentAt:      message.SentAt,
			Attachments: len(message.Attachments),
		},
	})

	return message.ID, nil
}

// ListConversation returns the messages between requesterID and otherID, most
// recent first, decrypted. A record that fails to decrypt is returned with
// DecryptError set rather than failing the listing.
func (s *service) ListConversation(ctx context.Context, requesterID, otherID model.UserID, page model.Page) ([]*model.DecryptedMessage, error) {
	if otherID == "" {
		return nil, model.Validation("other user id is required")
	}
	requester, err := s.users.Fetch(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	other, err := s.users.Fetch(ctx, otherID)
	if err != nil {
		return nil, err
	}
	profiles := map[model.UserID]*model.Profile{
		requester.ID: requester.Profile(),
		other.ID:     other.Profile(),
	}

	messages, err := s.store.Conversation(ctx, requesterID, otherID, page)
	if err != nil {
		return nil, model.Internal("failed to list messages", err)
	}

	decrypted := make([]*model.DecryptedMessage, 0, len(messages))
	for _, m := range messages {
		entry := &model.DecryptedMessage{
			Message:         m,
			SenderProfile:   profiles[m.Sender],
			ReceiverProfile: profiles[m.Receiver],
		}
		content, err := s.cipher.Decrypt(m.Ciphertext, m.IV)
		if err != nil {
			log.Warnf("message %s: %v", m.ID, err)
			entry.DecryptError = DecryptFailedMarker
		} else {
			entry.Content = content
		}
		decrypted = append(decrypted, entry)
	}

	return decrypted, nil
}

// MarkAsRead moves the message to read on behalf of its receiver and notifies
// the sender. Marking a read message again is a no-op.
func (s *service) MarkAsRead(ctx context.Context, requesterID model.UserID, messageID model.MessageID) (*model.Message, error) {
	message, err := s.fetchForReceiver(ctx, requesterID, messageID, "only the receiver can mark a message as read")
	if err != nil {
		return nil, err
	}
	if message.Status == model.MessageStatusRead {
		return message, nil
	}

	readAt := s.now().UTC()
	changed, err := s.store.MarkMessageRead(ctx, messageID, readAt)
	if err != nil {
		return nil, model.Internal("failed to mark message as read", err)
	}
	if !changed {
		// lost a race with another reader; report the stored state
		return s.fetch(ctx, messageID)
	}

	message.Status = model.MessageStatusRead
	message.ReadAt = &readAt

	s.notifier.Publish(message.Sender, notify.Event{
		Type: notify.EventMessageRead,
		Data: notify.MessageRef{MessageID: message.ID},
	})

	return message, nil
}

// MarkAsDelivered moves a sent message to delivered. Delivered and read
// messages are returned unchanged.
func (s *service) MarkAsDelivered(ctx context.Context, requesterID model.UserID, messageID model.MessageID) (*model.Message, error) {
	message, err := s.fetchForReceiver(ctx, requesterID, messageID, "only the receiver can mark a message as delivered")
	if err != nil {
		return nil, err
	}
	if message.Status != model.MessageStatusSent {
		return message, nil
	}

	changed, err := s.store.MarkMessageDelivered(ctx, messageID)
	if err != nil {
		return nil, model.Internal("failed to mark message as delivered", err)
	}
	if !changed {
		return s.fetch(ctx, messageID)
	}

	message.Status = model.MessageStatusDelivered

	s.notifier.Publish(message.Sender, notify.Event{
		Type: notify.EventMessageDelivered,
		Data: notify.MessageRef{MessageID: message.ID},
	})

	return message, nil
}

// DeleteMessage permanently removes a message. Either participant may delete it.
func (s *service) DeleteMessage(ctx context.Context, requesterID model.UserID, messageID model.MessageID) error {
	message, err := s.fetch(ctx, messageID)
	if err != nil {
		return err
	}
	if !message.IsParticipant(requesterID) {
		return model.Authorization("only participants can delete a message")
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, model.ErrorMessageNotFound) {
			return model.NotFound("message not found", err)
		}
		return model.Internal("failed to delete message", err)
	}

	s.notifier.Publish(message.Counterpart(requesterID), notify.Event{
		Type: notify.EventMessageDeleted,
		Data: notify.MessageRef{MessageID: message.ID},
	})

	return nil
}

func (s *service) fetch(ctx context.Context, messageID model.MessageID) (*model.Message, error) {
	if messageID == "" {
		return nil, model.Validation("message id is required")
	}
	message, err := s.store.FetchMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, model.ErrorMessageNotFound) {
			return nil, model.NotFound("message not found", err)
		}
		return nil, model.Internal("failed to fetch message", err)
	}
	return message, nil
}

func (s *service) fetchForReceiver(ctx context.Context, requesterID model.UserID, messageID model.MessageID, denied string) (*model.Message, error) {
	message, err := s.fetch(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Receiver != requesterID {
		return nil, model.Authorization(denied)
	}
	return message, nil
}
