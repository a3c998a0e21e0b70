package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "undangin/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListAccounts(ctx context.Context) ([]SenderAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, session, status, daily_limit, sent_today, last_reset_day
		 FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SenderAccount
	for rows.Next() {
		var a SenderAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.Phone, &a.Session, &a.Status,
			&a.DailyLimit, &a.SentToday, &a.LastResetDay); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IncrementSentToday(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET sent_today = sent_today + 1 WHERE id = ?`, accountID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ResetDailyCounts(ctx context.Context, day string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET sent_today = 0, last_reset_day = ? WHERE last_reset_day <> ?`,
		day, day)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug("daily counters reset", logx.String("day", day), logx.Int64("accounts", n))
	}
	return int(n), nil
}

func (s *sqliteStore) ListPendingMessages(ctx context.Context, campaignID string, limit int) ([]OutboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, guest_phone, body, media_url, status, sender_id, error, retry_count, created_at, sent_at
		 FROM messages WHERE campaign_id = ? AND status = 'pending'
		 ORDER BY created_at, id LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboundMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows) (OutboundMessage, error) {
	var m OutboundMessage
	var createdAt string
	var sentAt sql.NullString
	if err := rows.Scan(&m.ID, &m.CampaignID, &m.GuestPhone, &m.Body, &m.MediaURL,
		&m.Status, &m.SenderID, &m.Error, &m.RetryCount, &createdAt, &sentAt); err != nil {
		return m, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		m.CreatedAt = t
	}
	if sentAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, sentAt.String); err == nil {
			m.SentAt = &t
		}
	}
	return m, nil
}

func (s *sqliteStore) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, upd StatusUpdate) error {
	var sentAt any
	if upd.SentAt != nil {
		sentAt = upd.SentAt.Format(time.RFC3339Nano)
	}
	retryDelta := 0
	if upd.IncrementRetry {
		retryDelta = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET
		    status = ?,
		    sender_id = CASE WHEN ? <> '' THEN ? ELSE sender_id END,
		    error = ?,
		    sent_at = COALESCE(?, sent_at),
		    retry_count = retry_count + ?
		 WHERE id = ?`,
		status, upd.SenderID, upd.SenderID, upd.Error, sentAt, retryDelta, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) CountMessagesByStatus(ctx context.Context, campaignID string) (map[MessageStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM messages WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[MessageStatus]int{}
	for rows.Next() {
		var st MessageStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func (s *sqliteStore) GuestByPhone(ctx context.Context, phone string) (Guest, error) {
	var g Guest
	var rsvpAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, name, campaign_id, rsvp, rsvp_note, rsvp_at FROM guests WHERE phone = ?`,
		phone).Scan(&g.Phone, &g.Name, &g.CampaignID, &g.RSVP, &g.RSVPNote, &rsvpAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("guest %s: %w", phone, ErrNotFound)
	}
	if err != nil {
		return g, err
	}
	if rsvpAt.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, rsvpAt.String); perr == nil {
			g.RSVPAt = &t
		}
	}
	return g, nil
}

func (s *sqliteStore) UpdateGuestRSVP(ctx context.Context, phone string, rsvp RSVPStatus, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guests SET rsvp = ?, rsvp_note = ?, rsvp_at = ? WHERE phone = ?`,
		rsvp, note, time.Now().Format(time.RFC3339Nano), phone)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("guest %s: %w", phone, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) UpsertAccount(ctx context.Context, a SenderAccount) error {
	if a.DailyLimit <= 0 {
		a.DailyLimit = DefaultDailyLimit
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, name, phone, session, status, daily_limit, sent_today, last_reset_day)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		    name=excluded.name, phone=excluded.phone, session=excluded.session,
		    status=excluded.status, daily_limit=excluded.daily_limit`,
		a.ID, a.Name, a.Phone, a.Session, a.Status, a.DailyLimit, a.SentToday, a.LastResetDay)
	return err
}

func (s *sqliteStore) InsertMessage(ctx context.Context, m OutboundMessage) error {
	if m.Status == "" {
		m.Status = MessagePending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, campaign_id, guest_phone, body, media_url, status, sender_id, error, retry_count, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.CampaignID, m.GuestPhone, m.Body, m.MediaURL, m.Status, m.SenderID,
		m.Error, m.RetryCount, m.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) UpsertGuest(ctx context.Context, g Guest) error {
	if g.RSVP == "" {
		g.RSVP = RSVPPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guests(phone, name, campaign_id, rsvp, rsvp_note)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(phone) DO UPDATE SET
		    name=excluded.name, campaign_id=excluded.campaign_id`,
		g.Phone, g.Name, g.CampaignID, g.RSVP, g.RSVPNote)
	return err
}
