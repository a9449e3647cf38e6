package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/migrations"
	"wabridge/internal/models"
	"wabridge/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures a Database.
type Options struct {
	// EncryptionSecret enables AES-GCM encryption of message content and
	// settings when non-empty.
	EncryptionSecret string
	Now              func() time.Time
}

// Database is the sqlite message store. The status column is the only index
// membership record, so a message can never be listed under both statuses.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	now       func() time.Time
}

func New(dbPath string, opts Options) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	enc, err := NewEncryptor(opts.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := migrations.Apply(ctx, db); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Database{db: db, encryptor: enc, now: now}, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Backend() string { return constants.StoreBackendSQLite }

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return apperrors.NewStoreError("ping", err)
	}
	return nil
}

// PutMessage upserts msg by id and reports whether the id was new. The
// message keeps its list position when re-put with an unchanged status.
func (d *Database) PutMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInvalidParams, "invalid message")
	}
	row, err := d.encodeMessage(msg)
	if err != nil {
		return false, apperrors.NewStoreError("encode", err)
	}

	var created bool
	err = withRetry(ctx, func() error {
		created = false
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var current string
		err = tx.QueryRowContext(ctx, selectMessageStatusQuery, msg.ID).Scan(&current)
		switch {
		case err == sql.ErrNoRows:
			created = true
		case err != nil:
			return err
		}

		var seq int64
		if created || current != string(msg.Status) {
			if err := tx.QueryRowContext(ctx, nextIndexSeqQuery).Scan(&seq); err != nil {
				return err
			}
		} else if err := tx.QueryRowContext(ctx, selectIndexSeqQuery, msg.ID).Scan(&seq); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, upsertMessageQuery,
			msg.ID, msg.Status, msg.Timestamp, seq,
			row.sender, row.recipient, msg.Type, row.body, row.media, row.raw,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, apperrors.NewStoreError("put", err)
	}
	return created, nil
}

func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, bool, error) {
	msg, err := d.scanMessage(d.db.QueryRowContext(ctx, selectMessageByIDQuery, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStoreError("get", err)
	}
	return msg, true, nil
}

// ListMessages returns messages with the given status, newest first. A limit
// of zero or less returns every match.
func (d *Database) ListMessages(ctx context.Context, status models.Status, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, listMessagesByStatusQuery, status, limit)
	if err != nil {
		return nil, apperrors.NewStoreError("list", err)
	}
	defer rows.Close()

	out := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("list", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list", err)
	}
	return out, nil
}

// MarkProcessed moves a pending message to processed. It returns false for
// unknown and already processed ids.
func (d *Database) MarkProcessed(ctx context.Context, id string) (bool, error) {
	var moved bool
	err := withRetry(ctx, func() error {
		moved = false
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var seq int64
		if err := tx.QueryRowContext(ctx, nextIndexSeqQuery).Scan(&seq); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, markProcessedQuery, d.now().UnixMilli(), seq, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		moved = n == 1
		return tx.Commit()
	})
	if err != nil {
		return false, apperrors.NewStoreError("mark_processed", err)
	}
	return moved, nil
}

func (d *Database) PruneProcessed(ctx context.Context, before time.Time) (int, error) {
	var pruned int64
	err := withRetry(ctx, func() error {
		res, err := d.db.ExecContext(ctx, pruneProcessedQuery, before.UnixMilli())
		if err != nil {
			return err
		}
		pruned, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, apperrors.NewStoreError("prune", err)
	}
	return int(pruned), nil
}

func (d *Database) Counts(ctx context.Context) (map[models.Status]int, error) {
	rows, err := d.db.QueryContext(ctx, countByStatusQuery)
	if err != nil {
		return nil, apperrors.NewStoreError("count", err)
	}
	defer rows.Close()

	counts := map[models.Status]int{models.StatusPending: 0, models.StatusProcessed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.NewStoreError("count", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (d *Database) GetState(ctx context.Context) (models.State, error) {
	var closed bool
	if err := d.db.QueryRowContext(ctx, selectStateQuery).Scan(&closed); err != nil {
		return models.State{}, apperrors.NewStoreError("get_state", err)
	}
	return models.State{Closed: closed}, nil
}

func (d *Database) SetState(ctx context.Context, patch models.StatePatch) (models.State, error) {
	var next models.State
	err := withRetry(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var current models.State
		if err := tx.QueryRowContext(ctx, selectStateQuery).Scan(&current.Closed); err != nil {
			return err
		}
		next = patch.Apply(current)
		if _, err := tx.ExecContext(ctx, updateStateQuery, next.Closed); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return models.State{}, apperrors.NewStoreError("set_state", err)
	}
	return next, nil
}

func (d *Database) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var stored string
	err := d.db.QueryRowContext(ctx, selectSettingQuery, key).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStoreError("get_setting", err)
	}
	value, err := d.encryptor.Decrypt(stored)
	if err != nil {
		return "", false, apperrors.NewStoreError("decrypt_setting", err)
	}
	return value, true, nil
}

func (d *Database) SetSetting(ctx context.Context, key, value string) error {
	stored, err := d.encryptor.Encrypt(value)
	if err != nil {
		return apperrors.NewStoreError("encrypt_setting", err)
	}
	err = withRetry(ctx, func() error {
		_, err := d.db.ExecContext(ctx, upsertSettingQuery, key, stored)
		return err
	})
	if err != nil {
		return apperrors.NewStoreError("set_setting", err)
	}
	return nil
}

type encodedMessage struct {
	sender, recipient, body string
	media, raw              sql.NullString
}

func (d *Database) encodeMessage(msg *models.Message) (encodedMessage, error) {
	var row encodedMessage
	var err error

	if row.sender, err = d.encryptor.Encrypt(msg.From); err != nil {
		return row, err
	}
	if row.recipient, err = d.encryptor.Encrypt(msg.To); err != nil {
		return row, err
	}
	if row.body, err = d.encryptor.Encrypt(msg.Text); err != nil {
		return row, err
	}
	if msg.Media != nil {
		data, err := json.Marshal(msg.Media)
		if err != nil {
			return row, err
		}
		enc, err := d.encryptor.Encrypt(string(data))
		if err != nil {
			return row, err
		}
		row.media = sql.NullString{String: enc, Valid: true}
	}
	if len(msg.Raw) > 0 {
		enc, err := d.encryptor.Encrypt(string(msg.Raw))
		if err != nil {
			return row, err
		}
		row.raw = sql.NullString{String: enc, Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(s scanner) (*models.Message, error) {
	var (
		msg                     models.Message
		sender, recipient, body string
		media, raw              sql.NullString
	)
	if err := s.Scan(&msg.ID, &msg.Status, &msg.Timestamp, &sender, &recipient, &msg.Type, &body, &media, &raw); err != nil {
		return nil, err
	}

	var err error
	if msg.From, err = d.encryptor.Decrypt(sender); err != nil {
		return nil, err
	}
	if msg.To, err = d.encryptor.Decrypt(recipient); err != nil {
		return nil, err
	}
	if msg.Text, err = d.encryptor.Decrypt(body); err != nil {
		return nil, err
	}
	if media.Valid {
		plain, err := d.encryptor.Decrypt(media.String)
		if err != nil {
			return nil, err
		}
		msg.Media = &models.Media{}
		if err := json.Unmarshal([]byte(plain), msg.Media); err != nil {
			return nil, fmt.Errorf("decode media: %w", err)
		}
	}
	if raw.Valid {
		plain, err := d.encryptor.Decrypt(raw.String)
		if err != nil {
			return nil, err
		}
		msg.Raw = json.RawMessage(plain)
	}
	return &msg, nil
}
