package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
)

var ErrNotFound = errors.New("not found")

var (
	entryPattern      = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.md$`)
	summaryPattern    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-SUMMARY-(\d+)-days(-DRAFT)?\.md$`)
	checkpointPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(-.*)?\.md$`)
)

const dateLayout = "2006-01-02"

// Reader owns the three journal directories and every filename convention
// inside them. Entries are read-only except for checkpoint merges.
type Reader struct {
	EntriesDir   string
	SummariesDir string
	StagingDir   string
}

func New(entriesDir, summariesDir, stagingDir string) Reader {
	return Reader{EntriesDir: entriesDir, SummariesDir: summariesDir, StagingDir: stagingDir}
}

// Entries returns the dated entries inside [start, end], oldest first.
// Files whose names do not parse as dates are skipped. A missing entries
// directory is ErrNotFound; an empty range is an empty slice.
func (r Reader) Entries(start, end time.Time) ([]domain.Entry, error) {
	files, err := os.ReadDir(r.EntriesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("entries directory %s: %w", r.EntriesDir, ErrNotFound)
		}
		return nil, err
	}
	var entries []domain.Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		d, ok := parseEntryDate(f.Name())
		if !ok || d.Before(start) || d.After(end) {
			continue
		}
		path := filepath.Join(r.EntriesDir, f.Name())
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", f.Name(), err)
		}
		entries = append(entries, domain.Entry{Date: d, Path: path, Text: string(text)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	return entries, nil
}

// EntryForDate returns the single entry for a date, or ErrNotFound.
func (r Reader) EntryForDate(d time.Time) (domain.Entry, error) {
	path := filepath.Join(r.EntriesDir, d.Format(dateLayout)+".md")
	text, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Entry{}, fmt.Errorf("entry %s: %w", d.Format(dateLayout), ErrNotFound)
		}
		return domain.Entry{}, err
	}
	return domain.Entry{Date: d, Path: path, Text: string(text)}, nil
}

// LatestSummaryDate reports the newest summary date on disk, draft or
// finalized, across any window length. ok is false when none exist.
func (r Reader) LatestSummaryDate() (time.Time, bool, error) {
	summaries, err := r.ListSummaries()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(summaries) == 0 {
		return time.Time{}, false, nil
	}
	latest := summaries[0].RangeEnd
	for _, s := range summaries[1:] {
		if s.RangeEnd.After(latest) {
			latest = s.RangeEnd
		}
	}
	return latest, true, nil
}

// HasSummaryForRange reports whether a summary (draft or finalized) already
// exists for the exact range ending at end over days days.
func (r Reader) HasSummaryForRange(end time.Time, days int) (bool, error) {
	for _, name := range []string{finalName(end, days), draftName(end, days)} {
		if _, err := os.Stat(filepath.Join(r.SummariesDir, name)); err == nil {
			return true, nil
		} else if !os.IsNotExist(err) {
			return false, err
		}
	}
	return false, nil
}

// ListSummaries parses every summary file in the summaries directory.
// A missing directory is an empty list, not an error.
func (r Reader) ListSummaries() ([]domain.Draft, error) {
	files, err := os.ReadDir(r.SummariesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var res []domain.Draft
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := summaryPattern.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		end, err := time.ParseInLocation(dateLayout, m[1], time.UTC)
		if err != nil {
			continue
		}
		days, err := strconv.Atoi(m[2])
		if err != nil || days < 1 {
			continue
		}
		status := domain.StatusFinalized
		if m[3] != "" {
			status = domain.StatusDraft
		}
		res = append(res, domain.Draft{
			RangeStart: end.AddDate(0, 0, -(days - 1)),
			RangeEnd:   end,
			Days:       days,
			Path:       filepath.Join(r.SummariesDir, f.Name()),
			Status:     status,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RangeEnd.Before(res[j].RangeEnd) })
	return res, nil
}

// DraftPath is where the draft for a range lives.
func (r Reader) DraftPath(end time.Time, days int) string {
	return filepath.Join(r.SummariesDir, draftName(end, days))
}

// WriteDraft persists a generated summary body. The file appears only after
// the full body is on disk: content goes to a temp file first, then a rename
// publishes it.
func (r Reader) WriteDraft(end time.Time, days int, body string) (string, error) {
	if err := os.MkdirAll(r.SummariesDir, 0o755); err != nil {
		return "", err
	}
	path := r.DraftPath(end, days)
	if err := writeFileAtomic(path, []byte(body)); err != nil {
		return "", err
	}
	return path, nil
}

// FinalizeDraft renames a -DRAFT file to its finalized name. The bytes are
// untouched; only the name changes. Returns the finalized path.
func (r Reader) FinalizeDraft(path string) (string, error) {
	if !strings.HasSuffix(path, "-DRAFT.md") {
		return "", fmt.Errorf("finalize %s: not a draft file", filepath.Base(path))
	}
	final := strings.TrimSuffix(path, "-DRAFT.md") + ".md"
	if err := os.Rename(path, final); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("draft %s: %w", filepath.Base(path), ErrNotFound)
		}
		return "", err
	}
	return final, nil
}

// AppendRevisionNote adds a timestamped revision section to a draft.
func (r Reader) AppendRevisionNote(path string, ts time.Time, feedback string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("draft %s: %w", filepath.Base(path), ErrNotFound)
		}
		return err
	}
	note := fmt.Sprintf("\n\n---\n\n## Revision requested (%s)\n\n%s\n",
		ts.UTC().Format("2006-01-02 15:04 UTC"), strings.TrimSpace(feedback))
	return writeFileAtomic(path, append(data, []byte(note)...))
}

// StaleCheckpoints lists staged checkpoint files dated strictly before
// runDate, ordered by date, then created_at (file mtime), then name. A
// missing staging directory means nothing staged.
func (r Reader) StaleCheckpoints(runDate time.Time) ([]domain.Checkpoint, error) {
	files, err := os.ReadDir(r.StagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cps []domain.Checkpoint
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := checkpointPattern.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		d, err := time.ParseInLocation(dateLayout, m[1], time.UTC)
		if err != nil || !d.Before(runDate) {
			continue
		}
		path := filepath.Join(r.StagingDir, f.Name())
		info, err := f.Info()
		if err != nil {
			return nil, err
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read checkpoint %s: %w", f.Name(), err)
		}
		cps = append(cps, domain.Checkpoint{Date: d, Path: path, Text: string(text), CreatedAt: info.ModTime()})
	}
	sort.Slice(cps, func(i, j int) bool {
		a, b := cps[i], cps[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Path < b.Path
	})
	return cps, nil
}

// MergeCheckpoints appends the checkpoint texts, in the order given, to the
// entry for their date, creating the entry if needed. Consumed checkpoint
// files are removed only after the entry write lands. Returns the entry path.
func (r Reader) MergeCheckpoints(d time.Time, cps []domain.Checkpoint) (string, error) {
	if len(cps) == 0 {
		return "", fmt.Errorf("no checkpoints to merge for %s", d.Format(dateLayout))
	}
	var blocks []string
	for _, cp := range cps {
		if !cp.Date.Equal(d) {
			return "", fmt.Errorf("checkpoint %s does not belong to %s", filepath.Base(cp.Path), d.Format(dateLayout))
		}
		if t := strings.TrimSpace(cp.Text); t != "" {
			blocks = append(blocks, t)
		}
	}
	merged := strings.Join(blocks, "\n\n")

	path := filepath.Join(r.EntriesDir, d.Format(dateLayout)+".md")
	existing, err := os.ReadFile(path)
	var content string
	switch {
	case err == nil:
		content = strings.TrimRight(string(existing), "\n") + "\n\n" + merged + "\n"
	case os.IsNotExist(err):
		content = "# " + d.Format(dateLayout) + "\n\n" + merged + "\n"
	default:
		return "", err
	}
	if err := os.MkdirAll(r.EntriesDir, 0o755); err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return "", err
	}
	for _, cp := range cps {
		if err := os.Remove(cp.Path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("remove merged checkpoint %s: %w", filepath.Base(cp.Path), err)
		}
	}
	return path, nil
}

// GroupByDate splits checkpoints into per-date batches preserving order,
// dates ascending.
func GroupByDate(cps []domain.Checkpoint) [][]domain.Checkpoint {
	var groups [][]domain.Checkpoint
	byDate := map[string]int{}
	for _, cp := range cps {
		key := cp.Date.Format(dateLayout)
		i, ok := byDate[key]
		if !ok {
			i = len(groups)
			byDate[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], cp)
	}
	return groups
}

func parseEntryDate(name string) (time.Time, bool) {
	m := entryPattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(dateLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func draftName(end time.Time, days int) string {
	return fmt.Sprintf("%s-SUMMARY-%d-days-DRAFT.md", end.Format(dateLayout), days)
}

func finalName(end time.Time, days int) string {
	return fmt.Sprintf("%s-SUMMARY-%d-days.md", end.Format(dateLayout), days)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wjs-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
