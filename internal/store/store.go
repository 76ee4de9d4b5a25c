package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replyloop/internal/errs"
)

// Store provides database operations for threads, messages, actions, and
// policies.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store instance
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction composition.
func (s *Store) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx so the append/stamp
// operations can run inside the ingestion transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

const threadColumns = `id, user_id, lead_ref, channel, external_thread_id, status,
	last_inbound_at, last_outbound_at, metadata, created_at, updated_at`

func scanThread(row interface{ Scan(...interface{}) error }) (*Thread, error) {
	t := &Thread{}
	var metadata []byte
	err := row.Scan(
		&t.ID, &t.UserID, &t.LeadRef, &t.Channel, &t.ExternalThreadID, &t.Status,
		&t.LastInboundAt, &t.LastOutboundAt, &metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Metadata = json.RawMessage(metadata)
	return t, nil
}

// FindThreadByKey resolves a thread by its unique (user, channel, external id)
// triple. A missing external id is looked up as the empty-string bucket.
func (s *Store) FindThreadByKey(ctx context.Context, userID string, channel Channel, externalID string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM sales_threads
		WHERE user_id = $1 AND channel = $2 AND external_thread_id = $3`

	t, err := scanThread(s.db.QueryRowContext(ctx, query, userID, channel, externalID))
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Kind: "thread", ID: fmt.Sprintf("%s/%s/%s", userID, channel, externalID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find thread by key: %w", err)
	}
	return t, nil
}

// GetThread retrieves a thread by ID
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM sales_threads WHERE id = $1`

	t, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Kind: "thread", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return t, nil
}

// CreateThread inserts a new thread. ID and timestamps are assigned here.
func (s *Store) CreateThread(ctx context.Context, t *Thread) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if len(t.Metadata) == 0 {
		t.Metadata = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO sales_threads (id, user_id, lead_ref, channel, external_thread_id, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		t.ID, t.UserID, t.LeadRef, t.Channel, t.ExternalThreadID, t.Status, []byte(t.Metadata),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// SetThreadStatus updates the thread's status outside a transaction.
func (s *Store) SetThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	return setThreadStatus(ctx, s.db, threadID, status)
}

// SetThreadStatusTx updates the thread's status inside tx.
func (s *Store) SetThreadStatusTx(ctx context.Context, tx *sql.Tx, threadID string, status ThreadStatus) error {
	return setThreadStatus(ctx, tx, threadID, status)
}

func setThreadStatus(ctx context.Context, q querier, threadID string, status ThreadStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sales_threads SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errs.NotFoundError{Kind: "thread", ID: threadID}
	}
	return nil
}

// MarkInboundTx stamps the last-inbound time and forces the thread back to
// awaiting_human, regardless of prior status. Runs inside the ingestion
// transaction so the classify job can never race ahead of its own data.
func (s *Store) MarkInboundTx(ctx context.Context, tx *sql.Tx, threadID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE sales_threads SET status = $1, last_inbound_at = $2, updated_at = NOW() WHERE id = $3`,
		StatusAwaitingHuman, at, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark thread inbound: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errs.NotFoundError{Kind: "thread", ID: threadID}
	}
	return nil
}

// MarkOutboundTx stamps the last-outbound time and moves the thread to
// awaiting_prospect. Only the send worker calls this.
func (s *Store) MarkOutboundTx(ctx context.Context, tx *sql.Tx, threadID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE sales_threads SET status = $1, last_outbound_at = $2, updated_at = NOW() WHERE id = $3`,
		StatusAwaitingProspect, at, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark thread outbound: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errs.NotFoundError{Kind: "thread", ID: threadID}
	}
	return nil
}

// AppendMessage appends a message outside a transaction.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	return appendMessage(ctx, s.db, m)
}

// AppendMessageTx appends a message inside tx.
func (s *Store) AppendMessageTx(ctx context.Context, tx *sql.Tx, m *Message) error {
	return appendMessage(ctx, tx, m)
}

func appendMessage(ctx context.Context, q querier, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if len(m.Assets) == 0 {
		m.Assets = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO sales_messages (id, thread_id, direction, sender, recipient, subject, body, assets)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := q.QueryRowContext(ctx, query,
		m.ID, m.ThreadID, m.Direction, m.Sender, m.Recipient, m.Subject, m.Body, []byte(m.Assets),
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

const messageColumns = `id, thread_id, direction, sender, recipient, subject, body, assets, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*Message, error) {
	m := &Message{}
	var assets []byte
	err := row.Scan(&m.ID, &m.ThreadID, &m.Direction, &m.Sender, &m.Recipient, &m.Subject, &m.Body, &assets, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Assets = json.RawMessage(assets)
	return m, nil
}

// LatestInbound returns the most recent inbound message on a thread.
func (s *Store) LatestInbound(ctx context.Context, threadID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM sales_messages
		WHERE thread_id = $1 AND direction = 'inbound'
		ORDER BY created_at DESC LIMIT 1`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, threadID))
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Kind: "inbound message", ID: threadID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest inbound: %w", err)
	}
	return m, nil
}

// ListDrafts returns pending draft messages on a thread, oldest first.
func (s *Store) ListDrafts(ctx context.Context, threadID string) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM sales_messages
		WHERE thread_id = $1 AND direction = 'draft'
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	drafts := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, *m)
	}
	return drafts, rows.Err()
}

// DeleteDraftsTx removes all pending drafts on a thread. The classify worker
// replaces drafts wholesale inside one transaction so a retried job cannot
// leave duplicates behind.
func (s *Store) DeleteDraftsTx(ctx context.Context, tx *sql.Tx, threadID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM sales_messages WHERE thread_id = $1 AND direction = 'draft'`,
		threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete drafts: %w", err)
	}
	return nil
}

// GetDraft looks up a draft by id and verifies it belongs to the thread and
// is actually a draft.
func (s *Store) GetDraft(ctx context.Context, threadID, draftID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM sales_messages
		WHERE id = $1 AND thread_id = $2 AND direction = 'draft'`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, draftID, threadID))
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Kind: "draft", ID: draftID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return m, nil
}

// ListMessages returns all messages on a thread in chronological order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM sales_messages
		WHERE thread_id = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// CountOutboundSince counts outbound messages on a thread since the given
// time. Used by the send worker to enforce the per-thread daily cap.
func (s *Store) CountOutboundSince(ctx context.Context, threadID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales_messages WHERE thread_id = $1 AND direction = 'outbound' AND created_at >= $2`,
		threadID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbound messages: %w", err)
	}
	return count, nil
}

// AppendAction records an audit/escalation entry on the thread.
func (s *Store) AppendAction(ctx context.Context, a *Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `
		INSERT INTO sales_actions (id, thread_id, kind, note)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := s.db.QueryRowContext(ctx, query, a.ID, a.ThreadID, a.Kind, a.Note).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

// CountActions counts actions of one kind on a thread. The sweep worker uses
// this to count follow-ups already sent.
func (s *Store) CountActions(ctx context.Context, threadID, kind string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales_actions WHERE thread_id = $1 AND kind = $2`,
		threadID, kind,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

// ListActions returns the action trail for a thread in chronological order.
func (s *Store) ListActions(ctx context.Context, threadID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, kind, note, created_at FROM sales_actions WHERE thread_id = $1 ORDER BY created_at ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]Action, 0)
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.ThreadID, &a.Kind, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ListAwaitingHuman returns the action-inbox rows for a user: every thread in
// awaiting_human, enriched with its latest inbound message and pending drafts,
// ordered by most recent inbound first.
func (s *Store) ListAwaitingHuman(ctx context.Context, userID string) ([]InboxItem, error) {
	query := `SELECT ` + threadColumns + ` FROM sales_threads
		WHERE user_id = $1 AND status = $2
		ORDER BY last_inbound_at DESC NULLS LAST`

	rows, err := s.db.QueryContext(ctx, query, userID, StatusAwaitingHuman)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting-human threads: %w", err)
	}
	defer rows.Close()

	threads := make([]Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]InboxItem, 0, len(threads))
	for _, t := range threads {
		item := InboxItem{Thread: t, Drafts: make([]Message, 0)}

		latest, err := s.LatestInbound(ctx, t.ID)
		if err != nil && !errs.IsNotFound(err) {
			return nil, err
		}
		item.LatestInbound = latest

		drafts, err := s.ListDrafts(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		item.Drafts = drafts

		items = append(items, item)
	}
	return items, nil
}

// ListStaleAwaitingProspect returns threads for a user that are waiting on the
// prospect with a last-outbound older than cutoff. Candidates for the sweep.
func (s *Store) ListStaleAwaitingProspect(ctx context.Context, userID string, cutoff time.Time) ([]Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM sales_threads
		WHERE user_id = $1 AND status = $2 AND last_outbound_at IS NOT NULL AND last_outbound_at < $3
		ORDER BY last_outbound_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, StatusAwaitingProspect, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale threads: %w", err)
	}
	defer rows.Close()

	threads := make([]Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// ListUsersWithWaitingThreads returns the distinct users who have at least one
// thread waiting on a prospect. The sweep scheduler fans out one job per user.
func (s *Store) ListUsersWithWaitingThreads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM sales_threads WHERE status = $1`,
		StatusAwaitingProspect,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with waiting threads: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Timeline merges messages and actions for a thread chronologically.
func (s *Store) Timeline(ctx context.Context, threadID string) ([]TimelineEntry, error) {
	messages, err := s.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	actions, err := s.ListActions(ctx, threadID)
	if err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(messages)+len(actions))
	mi, ai := 0, 0
	for mi < len(messages) || ai < len(actions) {
		switch {
		case ai >= len(actions) || (mi < len(messages) && !messages[mi].CreatedAt.After(actions[ai].CreatedAt)):
			m := messages[mi]
			entries = append(entries, TimelineEntry{At: m.CreatedAt, Message: &m})
			mi++
		default:
			a := actions[ai]
			entries = append(entries, TimelineEntry{At: a.CreatedAt, Action: &a})
			ai++
		}
	}
	return entries, nil
}
