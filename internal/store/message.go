package store

import (
	"database/sql"
	"fmt"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Status and is_read never regress: the CASE
// enforces sending → sent → delivered → read, with failed reachable only
// from sending.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, status, is_read,
			attachment_url, attachment_type, attachment_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			status = CASE
				WHEN excluded.status = 'read' THEN 'read'
				WHEN excluded.status = 'delivered' AND messages.status IN ('sending', 'sent') THEN 'delivered'
				WHEN excluded.status = 'sent' AND messages.status = 'sending' THEN 'sent'
				WHEN excluded.status = 'failed' AND messages.status = 'sending' THEN 'failed'
				ELSE messages.status
			END,
			is_read = MAX(messages.is_read, excluded.is_read),
			attachment_url = excluded.attachment_url,
			attachment_type = excluded.attachment_type,
			attachment_name = excluded.attachment_name`,
		m.ConversationID, m.MsgID, m.SenderID, m.Content, m.Status, m.IsRead,
		m.AttachmentURL, m.AttachmentType, m.AttachmentName, m.CreatedAt)
	return err
}

const messageColumns = `
	m.conversation_id, m.msg_id, m.sender_id,
	COALESCE(NULLIF(pr.full_name, ''), m.sender_id) AS sender_name,
	m.content, m.status, m.is_read,
	m.attachment_url, m.attachment_type, m.attachment_name, m.created_at`

// ListMessages returns all messages for a conversation in ascending
// chronological order, decorated with sender display names.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN profiles pr ON pr.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.msg_id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message by conversation and id, or nil.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN profiles pr ON pr.id = m.sender_id
		WHERE m.conversation_id = ? AND m.msg_id = ?`, conversationID, msgID)

	var m Message
	err := scanMessage(row, &m)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessage(r rowScanner, m *Message) error {
	return r.Scan(
		&m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName,
		&m.Content, &m.Status, &m.IsRead,
		&m.AttachmentURL, &m.AttachmentType, &m.AttachmentName, &m.CreatedAt,
	)
}

// CommitPending reconciles an optimistic pending message (keyed by its
// client-generated correlation id) with the committed server row. If the
// committed row already arrived via the change feed, the pending row is
// dropped; otherwise the pending row is re-keyed to the server identity and
// promoted from sending to the committed status.
func (db *DB) CommitPending(conversationID, clientMsgID string, committed *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		committed.ConversationID, committed.MsgID).Scan(&exists)
	if err != nil {
		return err
	}

	if exists > 0 {
		// Feed echo won the race; the optimistic row is redundant.
		if _, err := tx.Exec(`
			DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
			conversationID, clientMsgID); err != nil {
			return err
		}
		return tx.Commit()
	}

	res, err := tx.Exec(`
		UPDATE messages
		SET msg_id = ?,
			status = CASE WHEN status = 'sending' THEN ? ELSE status END,
			created_at = ?
		WHERE conversation_id = ? AND msg_id = ?`,
		committed.MsgID, committed.Status, committed.CreatedAt,
		conversationID, clientMsgID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no pending message %s in conversation %s", clientMsgID, conversationID)
	}
	return tx.Commit()
}

// MarkMessageFailed flags an optimistic pending message whose persist failed.
// The row is kept so the user can see and re-trigger the send.
func (db *DB) MarkMessageFailed(conversationID, clientMsgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ? AND status = ?`,
		StatusFailed, conversationID, clientMsgID, StatusSending)
	return err
}
