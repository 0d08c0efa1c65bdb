package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beingSCK/work-journal-summarizer/internal/config"
	"github.com/beingSCK/work-journal-summarizer/internal/domain"
	"github.com/beingSCK/work-journal-summarizer/internal/events"
	"github.com/beingSCK/work-journal-summarizer/internal/journal"
	"github.com/beingSCK/work-journal-summarizer/internal/llm"
	"github.com/beingSCK/work-journal-summarizer/internal/mail"
	"github.com/beingSCK/work-journal-summarizer/internal/repo"
)

const dateLayout = "2006-01-02"

// Summarizer runs the generation pass: gather entries, generate once, write
// the draft, email it for review.
type Summarizer struct {
	Journal journal.Reader
	LLM     *llm.Client
	Mail    mail.Service
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
}

type RunOptions struct {
	// Days overrides the configured lookback window.
	Days   int
	Force  bool
	DryRun bool
}

type RunResult struct {
	Skipped      bool      `json:"skipped"`
	SkipReason   string    `json:"skip_reason,omitempty"`
	DryRun       bool      `json:"dry_run,omitempty"`
	RangeStart   time.Time `json:"range_start"`
	RangeEnd     time.Time `json:"range_end"`
	EntryCount   int       `json:"entry_count"`
	FeedbackUsed int       `json:"feedback_used"`
	PromptBytes  int       `json:"prompt_bytes"`
	DraftPath    string    `json:"draft_path,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	EmailedTo    string    `json:"emailed_to,omitempty"`
	Preview      string    `json:"preview,omitempty"`
}

// Run executes one generation pass. Without Force it is a no-op when a
// summary for the exact range exists or any summary is newer than the
// window. DryRun reports what would happen without network calls or writes.
func (s Summarizer) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	now := s.now()
	days := opts.Days
	if days <= 0 {
		days = s.Config.Journal.LookbackDays
	}
	end := dateOf(now)
	start := end.AddDate(0, 0, -(days - 1))
	res := &RunResult{RangeStart: start, RangeEnd: end, DryRun: opts.DryRun}

	if !opts.Force {
		exists, err := s.Journal.HasSummaryForRange(end, days)
		if err != nil {
			return nil, err
		}
		if exists {
			res.Skipped = true
			res.SkipReason = fmt.Sprintf("summary for %s to %s already exists", start.Format(dateLayout), end.Format(dateLayout))
			return res, nil
		}
		latest, ok, err := s.Journal.LatestSummaryDate()
		if err != nil {
			return nil, err
		}
		if ok {
			elapsed := int(end.Sub(latest).Hours() / 24)
			if elapsed < days {
				res.Skipped = true
				res.SkipReason = fmt.Sprintf("latest summary is %d days old, window is %d", elapsed, days)
				return res, nil
			}
		}
	}

	entries, err := s.Journal.Entries(start, end)
	if err != nil {
		return nil, err
	}
	res.EntryCount = len(entries)
	if len(entries) == 0 {
		res.Skipped = true
		res.SkipReason = "no journal entries in range"
		return res, nil
	}

	notes, err := s.Repo.PendingFeedback(ctx)
	if err != nil {
		return nil, err
	}
	res.FeedbackUsed = len(notes)

	prompt := BuildPrompt(entries, notes, start, end)
	res.PromptBytes = len(prompt)
	res.DraftPath = s.Journal.DraftPath(end, days)
	res.EmailedTo = s.Config.Email.To
	res.Model = s.Config.Anthropic.SummaryModel
	if opts.DryRun {
		return res, nil
	}

	gen, err := s.LLM.Complete(ctx, llm.Request{
		Model:     s.Config.Anthropic.SummaryModel,
		MaxTokens: s.Config.Anthropic.MaxTokens,
		Prompt:    prompt,
	})
	if err != nil {
		s.Events.Warn(ctx, "summary.generate_failed", "summary", end.Format(dateLayout),
			events.EventPayload{"error": err.Error()})
		return nil, err
	}
	body := llm.StripFences(gen.Text)
	res.Model = gen.Model
	res.InputTokens = gen.InputTokens
	res.OutputTokens = gen.OutputTokens
	res.Preview = preview(body, 500)

	draftPath, err := s.Journal.WriteDraft(end, days, body)
	if err != nil {
		return nil, fmt.Errorf("write draft: %w", err)
	}
	res.DraftPath = draftPath

	ts := now.UTC().Format(time.RFC3339)
	if len(notes) > 0 {
		if _, err := s.Repo.ConsumePendingFeedback(ctx, ts); err != nil {
			return nil, err
		}
	}
	s.Events.Append(ctx, "summary.generated", "summary", end.Format(dateLayout), events.EventPayload{
		"draft_path":    draftPath,
		"entries":       len(entries),
		"model":         gen.Model,
		"input_tokens":  gen.InputTokens,
		"output_tokens": gen.OutputTokens,
	})

	subject := fmt.Sprintf("%s Bi-Weekly Summary: %s to %s",
		s.Config.Email.SubjectPrefix, start.Format(dateLayout), end.Format(dateLayout))
	sent, err := s.Mail.Send(ctx, mail.Message{
		To:      s.Config.Email.To,
		From:    s.Config.Email.From,
		Subject: subject,
		Body:    reviewBody(body),
	})
	if err != nil {
		// The draft is on disk; losing the review mail is a warning, not a
		// reason to fail the pass.
		s.Events.Warn(ctx, "summary.email_failed", "summary", end.Format(dateLayout),
			events.EventPayload{"error": err.Error(), "draft_path": draftPath})
		return res, nil
	}
	if err := s.Repo.InsertOutbound(ctx, domain.OutboundMessage{
		ID:        uuid.NewString(),
		MessageID: sent.MessageID,
		ThreadID:  sent.ThreadID,
		Kind:      domain.OutboundSummary,
		DraftPath: &draftPath,
		Subject:   subject,
		SentAt:    ts,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// BuildPrompt renders the generation prompt: fixed section skeleton, pending
// reviewer feedback, then every entry under a dated separator.
func BuildPrompt(entries []domain.Entry, notes []domain.FeedbackNote, start, end time.Time) string {
	var entriesText strings.Builder
	for _, e := range entries {
		entriesText.WriteString("\n" + strings.Repeat("=", 60) + "\n")
		entriesText.WriteString("DATE: " + e.Date.Format(dateLayout) + "\n")
		entriesText.WriteString(strings.Repeat("=", 60) + "\n\n")
		entriesText.WriteString(e.Text)
		entriesText.WriteString("\n")
	}

	feedback := ""
	if len(notes) > 0 {
		var fb strings.Builder
		fb.WriteString("## Reviewer Feedback To Address\n\n")
		fb.WriteString("Earlier drafts received this feedback. Incorporate it:\n")
		for _, n := range notes {
			fb.WriteString("- " + strings.TrimSpace(n.Text) + "\n")
		}
		fb.WriteString("\n")
		feedback = fb.String()
	}

	rangeStr := start.Format(dateLayout) + " to " + end.Format(dateLayout)
	return fmt.Sprintf(`Please analyze these work journal entries and create a bi-weekly summary.

DATE RANGE: %s

## Output Format

Create a summary using this exact structure:

# Bi-Weekly Summary: %s

## Overview
[2-3 sentence synthesis of what the past two weeks were about]

## Projects Touched
- **[Project Name]** - [Status/progress summary]

## Key Decisions Made
- [Decision] - [Brief rationale]

## Things Learned
- [Learning with context]

## Friction Points / Blockers
- [What slowed things down]

## Surprises / Contrary to Expectations
- [What happened that you didn't predict]
- [Pattern note if this keeps showing up]

## Looking Ahead
- [Open threads, unresolved questions, momentum to carry forward]

%s## Journal Entries

%s

---

Now generate the summary following the format above. Focus on synthesis and patterns rather than just listing what happened. Be concise but insightful.`,
		rangeStr, rangeStr, feedback, entriesText.String())
}

func reviewBody(summary string) string {
	return fmt.Sprintf(`Here's your bi-weekly work journal summary for review.

---

%s

---

To approve this summary, reply with: "approve" or "looks good"
To request changes, reply describing what you'd like different.

This is an automated message from work-journal-summarizer.
`, summary)
}

func (s Summarizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
