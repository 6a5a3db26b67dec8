package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"uk.co.dudmesh.courier/internal/model"
)

type messageRow struct {
	ID          string            `db:"ID"`
	PairKey     string            `db:"PairKey"`
	Sender      string            `db:"Sender"`
	Receiver    string            `db:"Receiver"`
	Ciphertext  []byte            `db:"Ciphertext"`
	IV          []byte            `db:"IV"`
	Attachments model.Attachments `db:"Attachments"`
	Status      string            `db:"Status"`
	SentAt      int64             `db:"SentAt"`
	ReadAt      sql.NullInt64     `db:"ReadAt"`
}

func rowFromMessage(m *model.Message) *messageRow {
	row := &messageRow{
		ID:          string(m.ID),
		PairKey:     model.PairKey(m.Sender, m.Receiver),
		Sender:      string(m.Sender),
		Receiver:    string(m.Receiver),
		Ciphertext:  m.Ciphertext,
		IV:          m.IV,
		Attachments: m.Attachments,
		Status:      string(m.Status),
		SentAt:      m.SentAt.UTC().UnixNano(),
	}
	if m.Attachments == nil {
		row.Attachments = model.Attachments{}
	}
	if m.ReadAt != nil {
		row.ReadAt = sql.NullInt64{Int64: m.ReadAt.UTC().UnixNano(), Valid: true}
	}
	return row
}

func (r *messageRow) toMessage() *model.Message {
	m := &model.Message{
		ID:          model.MessageID(r.ID),
		Sender:      model.UserID(r.Sender),
		Receiver:    model.UserID(r.Receiver),
		Ciphertext:  r.Ciphertext,
		IV:          r.IV,
		Attachments: r.Attachments,
		Status:      model.MessageStatus(r.Status),
		SentAt:      time.Unix(0, r.SentAt).UTC(),
	}
	if r.ReadAt.Valid {
		readAt := time.Unix(0, r.ReadAt.Int64).UTC()
		m.ReadAt = &readAt
	}
	return m
}

func (s *Store) InsertMessage(ctx context.Context, message *model.Message) error {
	res, err := s.db.NamedExecContext(ctx, `insert into messages
		(ID, PairKey, Sender, Receiver, Ciphertext, IV, Attachments, Status, SentAt, ReadAt)
		values(:ID, :PairKey, :Sender, :Receiver, :Ciphertext, :IV, :Attachments, :Status, :SentAt, :ReadAt)`,
		rowFromMessage(message))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	}

	return nil
}

func (s *Store) FetchMessage(ctx context.Context, messageID model.MessageID) (*model.Message, error) {
	row := &messageRow{}
	err := s.db.GetContext(ctx, row, `select * from messages where ID = ?`, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorMessageNotFound
		}
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	return row.toMessage(), nil
}

// Conversation returns messages exchanged between a and b in either direction,
// most recent first. When page.Before is set only messages after the
// (Before, BeforeID) position in that order are included.
func (s *Store) Conversation(ctx context.Context, a, b model.UserID, page model.Page) ([]*model.Message, error) {
	page = page.Normalize()
	before := int64(math.MaxInt64)
	if page.Before != nil {
		before = page.Before.UTC().UnixNano()
	}

	rows := []messageRow{}
	err := s.db.SelectContext(ctx, &rows, `select * from messages
		where PairKey = ?
		and ((Sender = ? and Receiver = ?) or (Sender = ? and Receiver = ?))
		and (SentAt < ? or (SentAt = ? and ID < ?))
		order by SentAt desc, ID desc
		limit ?`,
		model.PairKey(a, b), a, b, b, a, before, before, page.BeforeID, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversation: %w", err)
	}

	messages := make([]*model.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toMessage())
	}
	return messages, nil
}

// MarkMessageRead moves a message to read and stamps readAt. It reports false
// without touching the row when the message was already read.
func (s *Store) MarkMessageRead(ctx context.Context, messageID model.MessageID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update messages
		set Status = ?, ReadAt = ?
		where ID = ? and Status != ?`,
		model.MessageStatusRead, at.UTC().UnixNano(), messageID, model.MessageStatusRead)
	if err != nil {
		return false, fmt.Errorf("marking message read: %w", err)
	}
	return changedOne(res)
}

// MarkMessageDelivered moves a sent message to delivered. It reports false when
// the message is already delivered or read.
func (s *Store) MarkMessageDelivered(ctx context.Context, messageID model.MessageID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update messages
		set Status = ?
		where ID = ? and Status = ?`,
		model.MessageStatusDelivered, messageID, model.MessageStatusSent)
	if err != nil {
		return false, fmt.Errorf("marking message delivered: %w", err)
	}
	return changedOne(res)
}

func (s *Store) DeleteMessage(ctx context.Context, messageID model.MessageID) error {
	res, err := s.db.ExecContext(ctx, `delete from messages where ID = ?`, messageID)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	changed, err := changedOne(res)
	if err != nil {
		return err
	}
	if !changed {
		return model.ErrorMessageNotFound
	}
	return nil
}

func changedOne(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows == 1, nil
}
