package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/beingSCK/work-journal-summarizer/internal/db"
	"github.com/beingSCK/work-journal-summarizer/internal/domain"
	"github.com/beingSCK/work-journal-summarizer/internal/events"
	"github.com/beingSCK/work-journal-summarizer/internal/migrate"
	"github.com/beingSCK/work-journal-summarizer/internal/repo"
)

type testEnv struct {
	Repo   repo.Repo
	Events events.Writer
	DB     *sql.DB
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := func() time.Time { return time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC) }
	return testEnv{
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn, Now: now},
		DB:     conn,
		Ctx:    context.Background(),
	}
}

func strptr(s string) *string { return &s }

func TestOutboundByThreadResolvesDraft(t *testing.T) {
	env := newTestEnv(t)
	draft := "/summaries/2026-01-14-SUMMARY-14-days-DRAFT.md"
	msgs := []domain.OutboundMessage{
		{ID: "m1", MessageID: "g1", ThreadID: "t1", Kind: domain.OutboundSummary, DraftPath: strptr(draft), Subject: "s", SentAt: "2026-01-14T08:00:00Z"},
		{ID: "m2", MessageID: "g2", ThreadID: "t1", Kind: domain.OutboundConfirmation, DraftPath: strptr(draft), Subject: "ack", SentAt: "2026-01-14T09:00:00Z"},
		{ID: "m3", MessageID: "g3", ThreadID: "t2", Kind: domain.OutboundHeartbeat, Subject: "hb", SentAt: "2026-01-15T01:00:00Z"},
	}
	for _, m := range msgs {
		if err := env.Repo.InsertOutbound(env.Ctx, m); err != nil {
			t.Fatalf("insert %s: %v", m.ID, err)
		}
	}

	got, err := env.Repo.OutboundByThread(env.Ctx, "t1")
	if err != nil {
		t.Fatalf("by thread: %v", err)
	}
	if got.ID != "m2" {
		t.Fatalf("expected newest message with a draft, got %s", got.ID)
	}
	if got.DraftPath == nil || *got.DraftPath != draft {
		t.Fatalf("draft path lost: %+v", got)
	}

	// heartbeat thread carries no draft
	if _, err := env.Repo.OutboundByThread(env.Ctx, "t2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Repo.OutboundByThread(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown thread, got %v", err)
	}
}

func TestLastOutboundByKind(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Repo.LastOutboundByKind(env.Ctx, domain.OutboundHeartbeat); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}
	for _, m := range []domain.OutboundMessage{
		{ID: "hb1", MessageID: "g1", ThreadID: "t", Kind: domain.OutboundHeartbeat, Subject: "hb", SentAt: "2026-01-13T01:00:00Z"},
		{ID: "hb2", MessageID: "g2", ThreadID: "t", Kind: domain.OutboundHeartbeat, Subject: "hb", SentAt: "2026-01-14T01:00:00Z"},
	} {
		if err := env.Repo.InsertOutbound(env.Ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	got, err := env.Repo.LastOutboundByKind(env.Ctx, domain.OutboundHeartbeat)
	if err != nil {
		t.Fatalf("last by kind: %v", err)
	}
	if got.SentAt != "2026-01-14T01:00:00Z" {
		t.Fatalf("expected newest heartbeat, got %s", got.SentAt)
	}
}

func TestReplyProcessingIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := domain.ProcessedReply{MessageID: "r1", Intent: domain.IntentApprove, ProcessedAt: "2026-01-15T08:00:00Z"}

	done, err := env.Repo.IsReplyProcessed(env.Ctx, "r1")
	if err != nil || done {
		t.Fatalf("fresh id should be unprocessed: %v %v", done, err)
	}
	if err := env.Repo.MarkReplyProcessed(env.Ctx, p); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// marking twice must not error
	if err := env.Repo.MarkReplyProcessed(env.Ctx, p); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	done, err = env.Repo.IsReplyProcessed(env.Ctx, "r1")
	if err != nil || !done {
		t.Fatalf("expected processed: %v %v", done, err)
	}
	list, err := env.Repo.ListProcessedReplies(env.Ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one row, got %d (%v)", len(list), err)
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	env := newTestEnv(t)
	notes := []domain.FeedbackNote{
		{ID: "f1", DraftPath: "/d1", Text: "tighter overview", CreatedAt: "2026-01-14T10:00:00Z"},
		{ID: "f2", DraftPath: "/d1", Text: "mention the launch", CreatedAt: "2026-01-14T11:00:00Z"},
	}
	for _, n := range notes {
		if err := env.Repo.InsertFeedback(env.Ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := env.Repo.PendingFeedback(env.Ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "f1" || pending[1].ID != "f2" {
		t.Fatalf("expected oldest-first pending notes, got %+v", pending)
	}

	n, err := env.Repo.ConsumePendingFeedback(env.Ctx, "2026-01-15T08:00:00Z")
	if err != nil || n != 2 {
		t.Fatalf("consume: n=%d err=%v", n, err)
	}
	pending, err = env.Repo.PendingFeedback(env.Ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected nothing pending after consume, got %d", len(pending))
	}
	// nothing left to consume
	n, err = env.Repo.ConsumePendingFeedback(env.Ctx, "2026-01-15T09:00:00Z")
	if err != nil || n != 0 {
		t.Fatalf("second consume: n=%d err=%v", n, err)
	}
}

func TestEventWriterLevels(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Events.Append(env.Ctx, "summary.generated", "draft", "/d1", events.EventPayload{"entries": 5}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := env.Events.Warn(env.Ctx, "summary.email_failed", "draft", "/d1", events.EventPayload{"error": "boom"}); err != nil {
		t.Fatalf("warn: %v", err)
	}

	recent, err := env.Repo.RecentEvents(env.Ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	// newest first
	if recent[0].Type != "summary.email_failed" || recent[0].Level != domain.LevelWarn {
		t.Fatalf("unexpected newest event: %+v", recent[0])
	}
	if recent[1].Level != domain.LevelInfo {
		t.Fatalf("append should write info level: %+v", recent[1])
	}
}

func TestWarnEventsSince(t *testing.T) {
	env := newTestEnv(t)
	ts := time.Date(2026, 1, 14, 1, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration) events.Writer {
		at := ts.Add(offset)
		return events.Writer{DB: env.DB, Now: func() time.Time { return at }}
	}
	if err := mk(-time.Hour).Warn(env.Ctx, "feed.fetch_failed", "feed", "FT", nil); err != nil {
		t.Fatal(err)
	}
	if err := mk(time.Hour).Warn(env.Ctx, "reply.ack_failed", "reply", "r9", nil); err != nil {
		t.Fatal(err)
	}
	if err := mk(2 * time.Hour).Append(env.Ctx, "summary.generated", "draft", "/d", nil); err != nil {
		t.Fatal(err)
	}

	warns, err := env.Repo.WarnEventsSince(env.Ctx, ts.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(warns) != 1 || warns[0].Type != "reply.ack_failed" {
		t.Fatalf("expected only the later warn, got %+v", warns)
	}
}
