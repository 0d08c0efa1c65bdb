package journal_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
	"github.com/beingSCK/work-journal-summarizer/internal/journal"
)

func newTestReader(t *testing.T) journal.Reader {
	t.Helper()
	base := t.TempDir()
	r := journal.New(
		filepath.Join(base, "daily-entries"),
		filepath.Join(base, "periodic-summaries"),
		filepath.Join(base, "daily-staging"),
	)
	for _, dir := range []string{r.EntriesDir, r.SummariesDir, r.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return r
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func date(s string) time.Time {
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEntriesOrderedWithinRange(t *testing.T) {
	r := newTestReader(t)
	// written out of order on purpose
	writeFile(t, filepath.Join(r.EntriesDir, "2026-01-03.md"), "third")
	writeFile(t, filepath.Join(r.EntriesDir, "2026-01-01.md"), "first")
	writeFile(t, filepath.Join(r.EntriesDir, "2026-01-05.md"), "outside")
	writeFile(t, filepath.Join(r.EntriesDir, "notes.txt"), "not an entry")
	writeFile(t, filepath.Join(r.EntriesDir, "2026-1-1.md"), "malformed name")
	if err := os.Mkdir(filepath.Join(r.EntriesDir, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := r.Entries(date("2026-01-01"), date("2026-01-04"))
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].Date.Equal(date("2026-01-01")) || entries[0].Text != "first" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].Date.Equal(date("2026-01-03")) || entries[1].Text != "third" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestEntriesEmptyRange(t *testing.T) {
	r := newTestReader(t)
	writeFile(t, filepath.Join(r.EntriesDir, "2026-01-01.md"), "x")
	entries, err := r.Entries(date("2026-02-01"), date("2026-02-14"))
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestEntriesMissingDir(t *testing.T) {
	r := journal.New(filepath.Join(t.TempDir(), "nope"), "", "")
	_, err := r.Entries(date("2026-01-01"), date("2026-01-14"))
	if !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEntryForDate(t *testing.T) {
	r := newTestReader(t)
	writeFile(t, filepath.Join(r.EntriesDir, "2026-01-02.md"), "hello")
	e, err := r.EntryForDate(date("2026-01-02"))
	if err != nil || e.Text != "hello" {
		t.Fatalf("entry: %v %+v", err, e)
	}
	if _, err := r.EntryForDate(date("2026-01-03")); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteAndFinalizeDraft(t *testing.T) {
	r := newTestReader(t)
	end := date("2026-01-14")
	body := "# Summary\n\nIt was a good fortnight.\n"

	path, err := r.WriteDraft(end, 14, body)
	if err != nil {
		t.Fatalf("write draft: %v", err)
	}
	if filepath.Base(path) != "2026-01-14-SUMMARY-14-days-DRAFT.md" {
		t.Fatalf("unexpected draft name: %s", filepath.Base(path))
	}
	exists, err := r.HasSummaryForRange(end, 14)
	if err != nil || !exists {
		t.Fatalf("expected draft to count for range: %v", err)
	}

	final, err := r.FinalizeDraft(path)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if filepath.Base(final) != "2026-01-14-SUMMARY-14-days.md" {
		t.Fatalf("unexpected final name: %s", filepath.Base(final))
	}
	data, err := os.ReadFile(final)
	if err != nil || string(data) != body {
		t.Fatalf("finalize must preserve bytes: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("draft should be gone after finalize")
	}
	exists, err = r.HasSummaryForRange(end, 14)
	if err != nil || !exists {
		t.Fatalf("expected finalized summary to count for range: %v", err)
	}

	if _, err := r.FinalizeDraft(path); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second finalize, got %v", err)
	}
	if _, err := r.FinalizeDraft(final); err == nil {
		t.Fatalf("expected error finalizing a non-draft path")
	}
}

func TestListSummariesAndLatestDate(t *testing.T) {
	r := newTestReader(t)
	writeFile(t, filepath.Join(r.SummariesDir, "2026-01-14-SUMMARY-14-days.md"), "a")
	writeFile(t, filepath.Join(r.SummariesDir, "2026-01-28-SUMMARY-14-days-DRAFT.md"), "b")
	writeFile(t, filepath.Join(r.SummariesDir, "README.md"), "not a summary")

	items, err := r.ListSummaries()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(items))
	}
	if items[0].Status != domain.StatusFinalized || items[1].Status != domain.StatusDraft {
		t.Fatalf("unexpected statuses: %+v", items)
	}
	if !items[1].RangeStart.Equal(date("2026-01-15")) {
		t.Fatalf("range start should be end minus 13 days, got %s", items[1].RangeStart)
	}

	latest, ok, err := r.LatestSummaryDate()
	if err != nil || !ok {
		t.Fatalf("latest: %v", err)
	}
	if !latest.Equal(date("2026-01-28")) {
		t.Fatalf("expected 2026-01-28, got %s", latest)
	}
}

func TestLatestSummaryDateEmpty(t *testing.T) {
	r := newTestReader(t)
	_, ok, err := r.LatestSummaryDate()
	if err != nil || ok {
		t.Fatalf("expected no summaries: ok=%v err=%v", ok, err)
	}
}

func TestAppendRevisionNote(t *testing.T) {
	r := newTestReader(t)
	path, err := r.WriteDraft(date("2026-01-14"), 14, "original body\n")
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	if err := r.AppendRevisionNote(path, ts, "shorter please"); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, _ := os.ReadFile(path)
	text := string(data)
	if !strings.HasPrefix(text, "original body") {
		t.Fatalf("original content lost: %q", text)
	}
	if !strings.Contains(text, "## Revision requested (2026-01-15 09:30 UTC)") {
		t.Fatalf("missing revision header: %q", text)
	}
	if !strings.Contains(text, "shorter please") {
		t.Fatalf("missing feedback text: %q", text)
	}

	if err := r.AppendRevisionNote(filepath.Join(r.SummariesDir, "missing-DRAFT.md"), ts, "x"); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStaleCheckpointsOrdering(t *testing.T) {
	r := newTestReader(t)
	early := filepath.Join(r.StagingDir, "2026-01-05-morning.md")
	late := filepath.Join(r.StagingDir, "2026-01-05.md")
	writeFile(t, late, "B")
	writeFile(t, early, "A")
	writeFile(t, filepath.Join(r.StagingDir, "2026-01-06.md"), "today, not stale")
	writeFile(t, filepath.Join(r.StagingDir, "scratch.txt"), "ignored")
	if err := os.Chtimes(early, time.Time{}, date("2026-01-05").Add(8*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(late, time.Time{}, date("2026-01-05").Add(17*time.Hour)); err != nil {
		t.Fatal(err)
	}

	cps, err := r.StaleCheckpoints(date("2026-01-06"))
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected 2 stale checkpoints, got %d", len(cps))
	}
	if cps[0].Text != "A" || cps[1].Text != "B" {
		t.Fatalf("expected created_at order A then B, got %q %q", cps[0].Text, cps[1].Text)
	}
}

func TestMergeCheckpoints(t *testing.T) {
	r := newTestReader(t)
	a := filepath.Join(r.StagingDir, "2026-01-05-a.md")
	b := filepath.Join(r.StagingDir, "2026-01-05-b.md")
	writeFile(t, a, "A\n")
	writeFile(t, b, "B\n")
	d := date("2026-01-05")
	cps := []domain.Checkpoint{
		{Date: d, Path: a, Text: "A\n"},
		{Date: d, Path: b, Text: "B\n"},
	}

	path, err := r.MergeCheckpoints(d, cps)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "# 2026-01-05") {
		t.Fatalf("new entry should start with a date heading: %q", text)
	}
	ai, bi := strings.Index(text, "A"), strings.Index(text, "B")
	if ai < 0 || bi < 0 || ai > bi {
		t.Fatalf("expected A before B: %q", text)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("checkpoint %s should be removed", p)
		}
	}

	// merging into an existing entry appends
	c := filepath.Join(r.StagingDir, "2026-01-05-c.md")
	writeFile(t, c, "C\n")
	if _, err := r.MergeCheckpoints(d, []domain.Checkpoint{{Date: d, Path: c, Text: "C\n"}}); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "A") || !strings.Contains(string(data), "C") {
		t.Fatalf("append lost content: %q", string(data))
	}
	if strings.Index(string(data), "B") > strings.Index(string(data), "C") {
		t.Fatalf("expected C appended after B: %q", string(data))
	}
}

func TestMergeCheckpointsWrongDate(t *testing.T) {
	r := newTestReader(t)
	p := filepath.Join(r.StagingDir, "2026-01-05.md")
	writeFile(t, p, "X")
	cps := []domain.Checkpoint{{Date: date("2026-01-05"), Path: p, Text: "X"}}
	if _, err := r.MergeCheckpoints(date("2026-01-06"), cps); err == nil {
		t.Fatalf("expected date mismatch error")
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("checkpoint must survive a failed merge: %v", err)
	}
}

func TestGroupByDate(t *testing.T) {
	cps := []domain.Checkpoint{
		{Date: date("2026-01-05"), Path: "a"},
		{Date: date("2026-01-05"), Path: "b"},
		{Date: date("2026-01-06"), Path: "c"},
	}
	groups := journal.GroupByDate(cps)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].Path != "a" || groups[0][1].Path != "b" {
		t.Fatalf("unexpected first group: %+v", groups[0])
	}
	if len(groups[1]) != 1 || groups[1][0].Path != "c" {
		t.Fatalf("unexpected second group: %+v", groups[1])
	}
}
