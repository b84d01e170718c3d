package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record. The unread
// counter is only overwritten when the incoming value is non-negative;
// pass -1 to preserve the cached counter.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message, last_message_at, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, MAX(?, 0), ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			unread_count = CASE WHEN ? >= 0 THEN ? ELSE conversations.unread_count END,
			updated_at = excluded.updated_at`,
		c.ID, c.LastMessage, c.LastMessageAt, c.UnreadCount, c.CreatedAt, now,
		c.UnreadCount, c.UnreadCount)
	return err
}

// SetParticipants replaces the participant set for a conversation.
func (db *DB) SetParticipants(conversationID string, userIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversation_participants WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	for _, uid := range userIDs {
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES (?, ?)
			ON CONFLICT(conversation_id, user_id) DO NOTHING`, conversationID, uid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const conversationColumns = `
	c.id, c.last_message, c.last_message_at, c.unread_count, c.created_at, c.updated_at,
	COALESCE(p.user_id, '') AS peer_id,
	COALESCE(NULLIF(pr.full_name, ''), p.user_id, '') AS peer_name,
	COALESCE(pr.avatar_url, '') AS peer_avatar,
	COALESCE(pr.role, '') AS peer_role`

// ListConversations returns the viewer's conversations ordered by most recent
// activity. The peer participant (the one that is not the viewer) is resolved
// via the participants table with profile decoration.
func (db *DB) ListConversations(viewerID string) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations c
		LEFT JOIN conversation_participants p
			ON p.conversation_id = c.id AND p.user_id <> ?
		LEFT JOIN profiles pr ON pr.id = p.user_id
		ORDER BY c.last_message_at DESC`, viewerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, peer-decorated for the
// viewer. Returns nil when not cached.
func (db *DB) GetConversation(viewerID, id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT `+conversationColumns+`
		FROM conversations c
		LEFT JOIN conversation_participants p
			ON p.conversation_id = c.id AND p.user_id <> ?
		LEFT JOIN profiles pr ON pr.id = p.user_id
		WHERE c.id = ?`, viewerID, id)

	var c Conversation
	err := scanConversation(row, &c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner, c *Conversation) error {
	return r.Scan(
		&c.ID, &c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt,
		&c.PeerID, &c.PeerName, &c.PeerAvatarURL, &c.PeerRole,
	)
}

// BumpUnread increments the unread counter and refreshes the denormalized
// last-message snapshot for a conversation.
func (db *DB) BumpUnread(conversationID, preview string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations
		SET unread_count = unread_count + 1,
			last_message = ?,
			last_message_at = ?,
			updated_at = ?
		WHERE id = ?`, preview, at, now, conversationID)
	return err
}

// UpdateSnapshot refreshes the denormalized last-message fields without
// touching the unread counter.
func (db *DB) UpdateSnapshot(conversationID, preview string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations
		SET last_message = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`, preview, at, now, conversationID)
	return err
}

// MarkConversationRead marks every message in the conversation not authored
// by the viewer as read and zeroes the unread counter.
func (db *DB) MarkConversationRead(conversationID, viewerID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE messages SET is_read = 1, status = ?
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0`,
		StatusRead, conversationID, viewerID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecountUnread recomputes the unread counter for a conversation from the
// message rows and stores the result. Used to heal counter drift after a full
// refresh.
func (db *DB) RecountUnread(conversationID, viewerID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0`,
		conversationID, viewerID).Scan(&n)
	if err != nil {
		return 0, err
	}
	_, err = db.Exec(`UPDATE conversations SET unread_count = ? WHERE id = ?`, n, conversationID)
	return n, err
}
