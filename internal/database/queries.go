package database

// Message queries
const (
	selectMessageStatusQuery = `SELECT status FROM messages WHERE id = ?`

	selectIndexSeqQuery = `SELECT index_seq FROM messages WHERE id = ?`

	nextIndexSeqQuery = `SELECT COALESCE(MAX(index_seq), 0) + 1 FROM messages`

	upsertMessageQuery = `
		INSERT INTO messages (id, status, timestamp, index_seq, sender, recipient, type, body, media, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			timestamp = excluded.timestamp,
			index_seq = excluded.index_seq,
			sender = excluded.sender,
			recipient = excluded.recipient,
			type = excluded.type,
			body = excluded.body,
			media = excluded.media,
			raw = excluded.raw,
			updated_at = CURRENT_TIMESTAMP
	`

	selectMessageColumns = `id, status, timestamp, sender, recipient, type, body, media, raw`

	selectMessageByIDQuery = `SELECT ` + selectMessageColumns + ` FROM messages WHERE id = ?`

	listMessagesByStatusQuery = `
		SELECT ` + selectMessageColumns + `
		FROM messages
		WHERE status = ?
		ORDER BY timestamp DESC, index_seq DESC
		LIMIT ?
	`

	markProcessedQuery = `
		UPDATE messages
		SET status = 'processed', timestamp = ?, index_seq = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`

	pruneProcessedQuery = `DELETE FROM messages WHERE status = 'processed' AND timestamp < ?`

	countByStatusQuery = `SELECT status, COUNT(*) FROM messages GROUP BY status`
)

// State and settings queries
const (
	selectStateQuery = `SELECT closed FROM app_state WHERE id = 1`

	updateStateQuery = `UPDATE app_state SET closed = ? WHERE id = 1`

	selectSettingQuery = `SELECT value FROM settings WHERE key = ?`

	upsertSettingQuery = `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
)
