package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beingSCK/work-journal-summarizer/internal/config"
	"github.com/beingSCK/work-journal-summarizer/internal/domain"
	"github.com/beingSCK/work-journal-summarizer/internal/events"
	"github.com/beingSCK/work-journal-summarizer/internal/feeds"
	"github.com/beingSCK/work-journal-summarizer/internal/journal"
	"github.com/beingSCK/work-journal-summarizer/internal/llm"
	"github.com/beingSCK/work-journal-summarizer/internal/mail"
	"github.com/beingSCK/work-journal-summarizer/internal/repo"
)

const dateLayout = "2006-01-02"

// Runner drives the daily heartbeat: merge stale staged checkpoints into
// their entries, fetch headlines, synthesize a news vibe, and send one
// digest regardless of how much there was to do.
type Runner struct {
	Journal journal.Reader
	LLM     *llm.Client
	Feeds   *feeds.Fetcher
	Mail    mail.Service
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
}

type RunOptions struct {
	DryRun bool
}

// Merge reports one per-date checkpoint merge.
type Merge struct {
	Date  time.Time `json:"date"`
	Files int       `json:"files"`
	Path  string    `json:"path"`
}

type RunResult struct {
	Date       time.Time `json:"date"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Merged     []Merge   `json:"merged,omitempty"`
	Headlines  int       `json:"headlines"`
	FeedErrors []string  `json:"feed_errors,omitempty"`
	Warnings   int       `json:"warnings"`
	EmailedTo  string    `json:"emailed_to,omitempty"`
}

// Run executes one heartbeat. Individual feed failures and per-date merge
// failures degrade the digest; only a failed digest send fails the pass.
func (r Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	today := dateOf(r.now())
	yesterday := today.AddDate(0, 0, -1)
	res := &RunResult{Date: today, DryRun: opts.DryRun, EmailedTo: r.Config.Email.To}

	stale, err := r.Journal.StaleCheckpoints(today)
	if err != nil {
		return nil, err
	}
	groups := journal.GroupByDate(stale)

	if opts.DryRun {
		for _, group := range groups {
			res.Merged = append(res.Merged, Merge{Date: group[0].Date, Files: len(group)})
		}
		return res, nil
	}

	for _, group := range groups {
		path, err := r.Journal.MergeCheckpoints(group[0].Date, group)
		if err != nil {
			r.Events.Warn(ctx, "heartbeat.merge_failed", "entry", group[0].Date.Format(dateLayout),
				events.EventPayload{"error": err.Error()})
			continue
		}
		res.Merged = append(res.Merged, Merge{Date: group[0].Date, Files: len(group), Path: path})
		r.Events.Append(ctx, "journal.checkpoints_merged", "entry", group[0].Date.Format(dateLayout),
			events.EventPayload{"files": len(group), "path": path})
	}

	var sources []feeds.Source
	for _, f := range r.Config.Heartbeat.Feeds {
		sources = append(sources, feeds.Source{Name: f.Name, URL: f.URL})
	}
	headlines, feedErrs := r.Feeds.FetchAll(ctx, sources)
	res.Headlines = len(headlines)
	for _, ferr := range feedErrs {
		res.FeedErrors = append(res.FeedErrors, ferr.Error())
		name := ""
		var fe *feeds.FeedError
		if errors.As(ferr, &fe) {
			name = fe.Feed
		}
		r.Events.Warn(ctx, "feed.fetch_failed", "feed", name, events.EventPayload{"error": ferr.Error()})
	}

	vibe := r.newsVibe(ctx, headlines)

	// Yesterday's entry may have just been created by the merge above.
	var journalText string
	if entry, err := r.Journal.EntryForDate(yesterday); err == nil {
		journalText = entry.Text
	}

	warns, err := r.warningsSinceLastDigest(ctx, today)
	if err != nil {
		return nil, err
	}
	res.Warnings = len(warns)

	subject := fmt.Sprintf("%s: %s", r.Config.Heartbeat.SubjectPrefix, today.Format(dateLayout))
	body := BuildDigest(DigestInput{
		Today:       today,
		Yesterday:   yesterday,
		JournalText: journalText,
		Merged:      res.Merged,
		Warnings:    warns,
		NewsVibe:    vibe,
	})

	sent, err := r.Mail.Send(ctx, mail.Message{
		To:      r.Config.Email.To,
		From:    r.Config.Email.From,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		r.Events.Warn(ctx, "heartbeat.email_failed", "heartbeat", today.Format(dateLayout),
			events.EventPayload{"error": err.Error()})
		return nil, err
	}
	if err := r.Repo.InsertOutbound(ctx, domain.OutboundMessage{
		ID:        uuid.NewString(),
		MessageID: sent.MessageID,
		ThreadID:  sent.ThreadID,
		Kind:      domain.OutboundHeartbeat,
		Subject:   subject,
		SentAt:    r.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}
	r.Events.Append(ctx, "heartbeat.sent", "heartbeat", today.Format(dateLayout), events.EventPayload{
		"merged":    len(res.Merged),
		"headlines": len(headlines),
		"warnings":  len(warns),
	})
	return res, nil
}

// newsVibe asks the model for a short mood paragraph over the fetched
// headlines and appends the source links. Any failure degrades to a stock
// line so the digest still goes out.
func (r Runner) newsVibe(ctx context.Context, headlines []domain.Headline) string {
	if len(headlines) == 0 {
		return "News feeds unavailable today."
	}
	gen, err := r.LLM.Complete(ctx, llm.Request{
		Model:     r.Config.Anthropic.SummaryModel,
		MaxTokens: 300,
		Prompt:    BuildVibePrompt(headlines),
	})
	if err != nil {
		r.Events.Warn(ctx, "heartbeat.vibe_failed", "heartbeat", "", events.EventPayload{"error": err.Error()})
		return "News unavailable today (could not synthesize headlines)."
	}
	return strings.TrimSpace(llm.StripFences(gen.Text)) + linksSection(headlines)
}

// warningsSinceLastDigest collects warn events written after the previous
// heartbeat went out, or over the last day for the first run.
func (r Runner) warningsSinceLastDigest(ctx context.Context, today time.Time) ([]domain.Event, error) {
	since := today.AddDate(0, 0, -1).Format(time.RFC3339)
	last, err := r.Repo.LastOutboundByKind(ctx, domain.OutboundHeartbeat)
	switch {
	case err == nil:
		since = last.SentAt
	case errors.Is(err, repo.ErrNotFound):
	default:
		return nil, err
	}
	return r.Repo.WarnEventsSince(ctx, since)
}

// DigestInput is everything the digest body needs.
type DigestInput struct {
	Today       time.Time
	Yesterday   time.Time
	JournalText string
	Merged      []Merge
	Warnings    []domain.Event
	NewsVibe    string
}

// BuildDigest renders the heartbeat email body.
func BuildDigest(in DigestInput) string {
	var b strings.Builder
	b.WriteString("Good morning!\n\nYour work journal system is running.\n\n---\n\n")

	b.WriteString(fmt.Sprintf("## Yesterday's Work (%s)\n\n", in.Yesterday.Format(dateLayout)))
	if in.JournalText != "" {
		prev := in.JournalText
		if runes := []rune(prev); len(runes) > 800 {
			prev = string(runes[:800]) + "\n\n[... full entry in work-journal]"
		}
		b.WriteString(prev)
	} else {
		b.WriteString("_No journal entry found for yesterday._")
	}
	b.WriteString("\n\n---\n\n## System Status\n\n")

	if len(in.Merged) == 0 {
		b.WriteString("No stale checkpoints; nothing to merge.\n")
	} else {
		for _, m := range in.Merged {
			b.WriteString(fmt.Sprintf("Merged %d checkpoint file(s) into %s.\n", m.Files, m.Date.Format(dateLayout)))
		}
	}

	if len(in.Warnings) > 0 {
		b.WriteString("\n## System Warnings\n\n")
		for _, w := range in.Warnings {
			line := "- " + w.Type
			if detail := payloadError(w.Payload); detail != "" {
				line += ": " + detail
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n---\n\n## News Vibe\n\n")
	b.WriteString(in.NewsVibe)
	b.WriteString(fmt.Sprintf("\n\n---\n\n_Heartbeat sent %s_\n_work-journal-summarizer_\n", in.Today.Format(dateLayout)))
	return b.String()
}

// BuildVibePrompt renders the news-vibe prompt over the fetched headlines,
// grouped by source.
func BuildVibePrompt(headlines []domain.Headline) string {
	var ht strings.Builder
	for _, source := range sourceOrder(headlines) {
		ht.WriteString(fmt.Sprintf("\n**%s:**\n", source))
		for _, h := range headlines {
			if h.Source != source {
				continue
			}
			line := "- " + h.Title
			if h.Summary != "" {
				line += " (" + h.Summary + ")"
			}
			ht.WriteString(line + "\n")
		}
	}

	return fmt.Sprintf(`Here are today's headlines from several news sources:

%s

Write a brief "news vibe" summary (3-5 sentences) that captures the overall mood/themes of today's news. Don't try to cover everything - just give a sense of what's happening in the world.

Requirements:
- Conversational tone, like a friend giving you the gist
- Don't be overly dramatic or sensational
- You can note interesting patterns or contrasts across regions
- No AI-speak ("notably", "significantly", "it's worth noting")
- End with one specific headline that caught your attention (include the source)
`, ht.String())
}

func linksSection(headlines []domain.Headline) string {
	var b strings.Builder
	b.WriteString("\n\n**Headlines sourced from:**\n")
	for _, source := range sourceOrder(headlines) {
		var links []string
		n := 0
		for _, h := range headlines {
			if h.Source != source || h.Link == "" {
				continue
			}
			n++
			links = append(links, fmt.Sprintf("[%d](%s)", n, h.Link))
		}
		if len(links) == 0 {
			continue
		}
		b.WriteString("- " + source + ": " + strings.Join(links, ", ") + "\n")
	}
	return b.String()
}

func sourceOrder(headlines []domain.Headline) []string {
	var order []string
	seen := map[string]bool{}
	for _, h := range headlines {
		if !seen[h.Source] {
			seen[h.Source] = true
			order = append(order, h.Source)
		}
	}
	return order
}

func payloadError(payload string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return ""
	}
	if s, ok := m["error"].(string); ok {
		return s
	}
	return ""
}

func (r Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
