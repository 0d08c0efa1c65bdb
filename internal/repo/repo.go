package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertOutbound(ctx context.Context, m domain.OutboundMessage) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO outbound_messages(id,message_id,thread_id,kind,draft_path,subject,sent_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.MessageID, m.ThreadID, m.Kind, nullable(m.DraftPath), m.Subject, m.SentAt)
	return err
}

// OutboundByThread resolves a reply thread to the draft it concerns: the
// most recent message we sent on that thread that carries a draft path.
func (r Repo) OutboundByThread(ctx context.Context, threadID string) (domain.OutboundMessage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,message_id,thread_id,kind,draft_path,subject,sent_at FROM outbound_messages
		WHERE thread_id=? AND draft_path IS NOT NULL ORDER BY sent_at DESC, id DESC LIMIT 1`, threadID)
	return scanOutbound(row)
}

// LastOutboundByKind returns the most recent message of a kind, or ErrNotFound.
func (r Repo) LastOutboundByKind(ctx context.Context, kind string) (domain.OutboundMessage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,message_id,thread_id,kind,draft_path,subject,sent_at FROM outbound_messages
		WHERE kind=? ORDER BY sent_at DESC, id DESC LIMIT 1`, kind)
	return scanOutbound(row)
}

func (r Repo) ListOutbound(ctx context.Context, limit int) ([]domain.OutboundMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,message_id,thread_id,kind,draft_path,subject,sent_at FROM outbound_messages ORDER BY sent_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboundMessage
	for rows.Next() {
		var m domain.OutboundMessage
		var draft sql.NullString
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ThreadID, &m.Kind, &draft, &m.Subject, &m.SentAt); err != nil {
			return nil, err
		}
		if draft.Valid {
			m.DraftPath = &draft.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func scanOutbound(row *sql.Row) (domain.OutboundMessage, error) {
	var m domain.OutboundMessage
	var draft sql.NullString
	err := row.Scan(&m.ID, &m.MessageID, &m.ThreadID, &m.Kind, &draft, &m.Subject, &m.SentAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if draft.Valid {
		m.DraftPath = &draft.String
	}
	return m, err
}

// IsReplyProcessed reports whether a reply message id was handled before.
func (r Repo) IsReplyProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_replies WHERE message_id=?`, messageID).Scan(&n)
	return n > 0, err
}

func (r Repo) MarkReplyProcessed(ctx context.Context, p domain.ProcessedReply) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO processed_replies(message_id,intent,draft_path,processed_at) VALUES (?,?,?,?)`,
		p.MessageID, p.Intent, nullable(p.DraftPath), p.ProcessedAt)
	return err
}

func (r Repo) ListProcessedReplies(ctx context.Context, limit int) ([]domain.ProcessedReply, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT message_id,intent,draft_path,processed_at FROM processed_replies ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProcessedReply
	for rows.Next() {
		var p domain.ProcessedReply
		var draft sql.NullString
		if err := rows.Scan(&p.MessageID, &p.Intent, &draft, &p.ProcessedAt); err != nil {
			return nil, err
		}
		if draft.Valid {
			p.DraftPath = &draft.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertFeedback(ctx context.Context, n domain.FeedbackNote) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO feedback_notes(id,draft_path,note,created_at) VALUES (?,?,?,?)`,
		n.ID, n.DraftPath, n.Text, n.CreatedAt)
	return err
}

// PendingFeedback lists notes no generation has embedded yet, oldest first.
func (r Repo) PendingFeedback(ctx context.Context) ([]domain.FeedbackNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,draft_path,note,created_at FROM feedback_notes WHERE consumed_at IS NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FeedbackNote
	for rows.Next() {
		var n domain.FeedbackNote
		if err := rows.Scan(&n.ID, &n.DraftPath, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// ConsumePendingFeedback stamps every pending note as embedded at ts and
// returns how many were stamped.
func (r Repo) ConsumePendingFeedback(ctx context.Context, ts string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE feedback_notes SET consumed_at=? WHERE consumed_at IS NULL`, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,level,entity_kind,entity_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// WarnEventsSince returns warn-level events strictly after ts in id order,
// the rows a digest reports as system warnings.
func (r Repo) WarnEventsSince(ctx context.Context, ts string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,level,entity_kind,entity_id,payload_json FROM events WHERE level='warn' AND ts>? ORDER BY id ASC`, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Level, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}
