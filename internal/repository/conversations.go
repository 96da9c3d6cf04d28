package repository

import (
	"context"
	"fmt"

	"rules-tuner/internal/conversation"
)

type messageRow struct {
	ConversationID string `db:"conversation_id"`
	Position       int    `db:"position"`
	Type           string `db:"type"`
	Origin         string `db:"origin"`
	Sender         string `db:"sender"`
	Content        string `db:"content"`
	MediaURL       string `db:"media_url"`
	CreatedAt      string `db:"created_at"`
}

// SaveConversations replaces the stored messages of every given
// conversation.
func (s *Store) SaveConversations(ctx context.Context, convs []conversation.Conversation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := tx.Rebind(`DELETE FROM messages WHERE conversation_id = ?`)
	ins := tx.Rebind(`INSERT INTO messages
		(conversation_id, position, type, origin, sender, content, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, c := range convs {
		if _, err := tx.ExecContext(ctx, del, c.ID); err != nil {
			return fmt.Errorf("clear conversation %s: %w", c.ID, err)
		}
		for i, m := range c.Messages {
			if _, err := tx.ExecContext(ctx, ins, c.ID, i, m.Type, m.Origin, string(m.Sender),
				m.Content, m.MediaURL, m.CreatedAt); err != nil {
				return fmt.Errorf("save conversation %s message %d: %w", c.ID, i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("conversations saved")
	return nil
}

// LoadConversations returns every stored conversation ordered by id, with
// messages in position order.
func (s *Store) LoadConversations(ctx context.Context) ([]conversation.Conversation, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT conversation_id, position, type, origin, sender, content, media_url, created_at
		FROM messages ORDER BY conversation_id, position`); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	var out []conversation.Conversation
	for _, row := range rows {
		sender, err := conversation.ParseSender(row.Sender)
		if err != nil {
			return nil, fmt.Errorf("conversation %s message %d: %w", row.ConversationID, row.Position, err)
		}
		if len(out) == 0 || out[len(out)-1].ID != row.ConversationID {
			out = append(out, conversation.Conversation{ID: row.ConversationID})
		}
		last := &out[len(out)-1]
		last.Messages = append(last.Messages, conversation.Message{
			Type:      row.Type,
			Origin:    row.Origin,
			Sender:    sender,
			Content:   row.Content,
			MediaURL:  row.MediaURL,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
