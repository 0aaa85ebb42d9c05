// Package sqlstore implements the remote persistence store on SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/pkg/models"
)

var ErrUploadsDisabled = errors.New("uploads are not configured")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	address TEXT UNIQUE NOT NULL,
	ens_name TEXT,
	inbox_id TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS users_by_inbox ON users(inbox_id);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	user_id TEXT UNIQUE NOT NULL REFERENCES users(id),
	display_name TEXT,
	avatar_url TEXT,
	avatar_storage_id TEXT,
	bio TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	participants TEXT NOT NULL,
	last_message TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	participant TEXT NOT NULL,
	PRIMARY KEY (conversation_id, participant)
);
CREATE INDEX IF NOT EXISTS participants_by_id ON conversation_participants(participant);
`

type Options struct {
	// Uploads backs GenerateUploadURL and avatar hydration. Optional.
	Uploads remotestore.Uploads
	Now     func() time.Time
}

type Store struct {
	db      *sql.DB
	uploads remotestore.Uploads
	now     func() time.Time
}

var _ remotestore.Store = (*Store)(nil)

// Open opens dataSourceName ("phenix.db", ":memory:") and creates the schema.
func Open(dataSourceName string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if dataSourceName == ":memory:" {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, uploads: opts.Uploads, now: opts.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (s *Store) UpsertUser(ctx context.Context, address, ensName, inboxID string) (string, error) {
	address = remotestore.NormalizeID(address)
	if address == "" {
		return "", fmt.Errorf("%w: address is required", remotestore.ErrInvalidArgument)
	}
	inboxID = remotestore.NormalizeID(inboxID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE address = ?`, address).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, address, ens_name, inbox_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, address, nullable(ensName), nullable(inboxID), s.nowMillis())
	case err == nil:
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET ens_name = ?, inbox_id = ? WHERE id = ?`,
			nullable(ensName), nullable(inboxID), id)
	}
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

const userColumns = `id, address, COALESCE(ens_name, ''), COALESCE(inbox_id, ''), created_at`

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	var created int64
	if err := row.Scan(&u.ID, &u.Address, &u.ENSName, &u.InboxID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, remotestore.ErrNotFound
		}
		return models.User{}, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (s *Store) GetUserByAddress(ctx context.Context, address string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE address = ?`, remotestore.NormalizeID(address)))
}

func (s *Store) GetUserByInboxID(ctx context.Context, inboxID string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE inbox_id = ?`, remotestore.NormalizeID(inboxID)))
}

func (s *Store) UpsertConversation(ctx context.Context, participants []string) (string, error) {
	if len(participants) == 0 {
		return "", fmt.Errorf("%w: participants are required", remotestore.ErrInvalidArgument)
	}
	key := remotestore.CanonicalKey(participants)
	now := s.nowMillis()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE key = ?`, key).Scan(&id)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, id); err != nil {
			return "", err
		}
		return id, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	raw, err := json.Marshal(participants)
	if err != nil {
		return "", err
	}
	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, key, participants, updated_at) VALUES (?, ?, ?, ?)`,
		id, key, string(raw), now); err != nil {
		return "", err
	}
	for _, p := range strings.Split(key, ":") {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_participants (conversation_id, participant) VALUES (?, ?)`,
			id, p); err != nil {
			return "", err
		}
	}
	return id, tx.Commit()
}

func (s *Store) UpdateLastMessage(ctx context.Context, key, lastMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message = ?, updated_at = ? WHERE key = ?`,
		lastMessage, s.nowMillis(), key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return remotestore.ErrNotFound
	}
	return nil
}

func (s *Store) GetConversationsForAddress(ctx context.Context, address string) ([]models.StoredConversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.key, c.participants, COALESCE(c.last_message, ''), c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.participant = ?
		ORDER BY c.updated_at DESC, c.id`, remotestore.NormalizeID(address))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StoredConversation
	for rows.Next() {
		var c models.StoredConversation
		var raw string
		var updated int64
		if err := rows.Scan(&c.ID, &c.Key, &raw, &c.LastMessage, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &c.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", c.ID, err)
		}
		c.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, update remotestore.ProfileUpdate) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", remotestore.ErrNotFound
		}
		return "", err
	}

	now := s.nowMillis()
	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE user_id = ?`, userID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO profiles (id, user_id, display_name, avatar_url, avatar_storage_id, bio, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, userID, optional(update.DisplayName), optional(update.AvatarURL),
			optional(update.AvatarStorageID), optional(update.Bio), now)
	case err == nil:
		// nil fields keep their stored value
		_, err = tx.ExecContext(ctx, `
			UPDATE profiles SET
				display_name = CASE WHEN ? THEN ? ELSE display_name END,
				avatar_url = CASE WHEN ? THEN ? ELSE avatar_url END,
				avatar_storage_id = CASE WHEN ? THEN ? ELSE avatar_storage_id END,
				bio = CASE WHEN ? THEN ? ELSE bio END,
				updated_at = ?
			WHERE id = ?`,
			update.DisplayName != nil, optional(update.DisplayName),
			update.AvatarURL != nil, optional(update.AvatarURL),
			update.AvatarStorageID != nil, optional(update.AvatarStorageID),
			update.Bio != nil, optional(update.Bio),
			now, id)
	}
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func optional(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return nullable(*v)
}

const profileColumns = `p.id, p.user_id, COALESCE(p.display_name, ''), COALESCE(p.avatar_url, ''),
	COALESCE(p.avatar_storage_id, ''), COALESCE(p.bio, ''), p.updated_at`

func (s *Store) scanProfile(ctx context.Context, row *sql.Row) (models.Profile, error) {
	var p models.Profile
	var updated int64
	if err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.AvatarURL, &p.AvatarStorageID, &p.Bio, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, remotestore.ErrNotFound
		}
		return models.Profile{}, err
	}
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	p.AvatarURL = s.hydrateAvatar(ctx, p)
	return p, nil
}

// hydrateAvatar prefers a signed URL for a stored blob; a missing blob
// yields "" as the hosted store does.
func (s *Store) hydrateAvatar(ctx context.Context, p models.Profile) string {
	if p.AvatarStorageID == "" || s.uploads == nil {
		return p.AvatarURL
	}
	u, err := s.uploads.GetURLForStorageID(ctx, p.AvatarStorageID)
	if err != nil {
		return ""
	}
	return u
}

func (s *Store) GetProfileByAddress(ctx context.Context, address string) (models.Profile, error) {
	return s.scanProfile(ctx, s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p JOIN users u ON u.id = p.user_id WHERE u.address = ?`,
		remotestore.NormalizeID(address)))
}

func (s *Store) GetProfilesForInboxIDs(ctx context.Context, inboxIDs []string) (map[string]models.PeerProfile, error) {
	out := make(map[string]models.PeerProfile, len(inboxIDs))
	for _, inboxID := range inboxIDs {
		p, err := s.scanProfile(ctx, s.db.QueryRowContext(ctx,
			`SELECT `+profileColumns+` FROM profiles p JOIN users u ON u.id = p.user_id WHERE u.inbox_id = ?`,
			remotestore.NormalizeID(inboxID)))
		if errors.Is(err, remotestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[inboxID] = models.PeerProfile{DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, Bio: p.Bio}
	}
	return out, nil
}

func (s *Store) GenerateUploadURL(ctx context.Context) (string, error) {
	if s.uploads == nil {
		return "", ErrUploadsDisabled
	}
	return s.uploads.GenerateUploadURL(ctx)
}

func (s *Store) GetURLForStorageID(ctx context.Context, storageID string) (string, error) {
	if s.uploads == nil {
		return "", ErrUploadsDisabled
	}
	return s.uploads.GetURLForStorageID(ctx, storageID)
}
