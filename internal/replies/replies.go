package replies

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
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

// ClassificationError wraps a failed classification call. It is never fatal:
// the reply falls back to UNCLEAR.
type ClassificationError struct {
	MessageID string
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify reply %s: %v", e.MessageID, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Replies that cannot be tied to a live draft get recorded with this
// disposition instead of a classification.
const dispositionOutOfScope = "OUT_OF_SCOPE"

var (
	classificationRe = regexp.MustCompile(`CLASSIFICATION:\s*(APPROVE|REVISE|UNCLEAR)`)
	feedbackRe       = regexp.MustCompile(`FEEDBACK:\s*(.+)`)
)

// Processor drives the reply pass: fetch unread replies, resolve each to
// the draft its thread concerns, classify, and apply the state transition.
// A finalized summary never goes back to draft.
type Processor struct {
	Journal journal.Reader
	LLM     *llm.Client
	Mail    mail.Service
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
}

type RunOptions struct {
	DryRun bool
}

// Outcome describes what happened to one reply.
type Outcome struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Intent    string `json:"intent,omitempty"`
	Action    string `json:"action"`
	DraftPath string `json:"draft_path,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunResult struct {
	Checked     int       `json:"checked"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	FetchErrors []string  `json:"fetch_errors,omitempty"`
	DryRun      bool      `json:"dry_run,omitempty"`
	Outcomes    []Outcome `json:"outcomes,omitempty"`
}

// Run fetches up to ten unread replies and handles each one. Replies are
// isolated: a reply that cannot be fetched or handled is recorded and the
// rest still process. Replies already in the processed set are skipped,
// so re-runs are harmless.
func (p Processor) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	replies, fetchErrs := p.Mail.UnreadReplies(ctx, p.Config.Email.SubjectPrefix, 10)
	res := &RunResult{Checked: len(replies), DryRun: opts.DryRun}
	for _, ferr := range fetchErrs {
		var fe *mail.FetchError
		if !errors.As(ferr, &fe) {
			return nil, ferr
		}
		// The message stays unread, so the next run picks it up again.
		res.FetchErrors = append(res.FetchErrors, ferr.Error())
		if !opts.DryRun {
			p.Events.Warn(ctx, "reply.fetch_failed", "reply", fe.MessageID, events.EventPayload{
				"error": ferr.Error(),
			})
		}
	}

	for _, reply := range replies {
		done, err := p.Repo.IsReplyProcessed(ctx, reply.MessageID)
		if err != nil {
			return nil, err
		}
		if done {
			res.Skipped++
			continue
		}
		outcome := p.handle(ctx, reply, opts.DryRun)
		res.Outcomes = append(res.Outcomes, outcome)
		if !opts.DryRun {
			res.Processed++
		}
	}
	return res, nil
}

func (p Processor) handle(ctx context.Context, reply domain.Reply, dryRun bool) Outcome {
	out := Outcome{MessageID: reply.MessageID, From: reply.From}

	draftPath, live := p.resolveDraft(ctx, reply.ThreadID)
	if !live {
		out.Action = "ignored"
		out.Detail = "no live draft for this thread"
		if !dryRun {
			p.Events.Append(ctx, "reply.ignored", "reply", reply.MessageID, events.EventPayload{
				"thread_id": reply.ThreadID,
				"from":      reply.From,
			})
			p.finish(ctx, reply, dispositionOutOfScope, nil)
		}
		return out
	}
	out.DraftPath = draftPath

	if dryRun {
		out.Action = "would-classify"
		return out
	}

	c := p.classify(ctx, reply)
	out.Intent = c.Intent

	switch c.Intent {
	case domain.IntentApprove:
		finalPath, err := p.Journal.FinalizeDraft(draftPath)
		if err != nil {
			out.Action = "error"
			out.Detail = err.Error()
			p.Events.Warn(ctx, "reply.finalize_failed", "summary", draftPath, events.EventPayload{"error": err.Error()})
			return out
		}
		out.Action = "finalized"
		out.Detail = finalPath
		p.Events.Append(ctx, "summary.finalized", "summary", finalPath, events.EventPayload{
			"draft_path": draftPath,
			"reply_id":   reply.MessageID,
		})
		p.acknowledge(ctx, reply, draftPath, "Summary Approved", approvedBody())

	case domain.IntentRevise:
		feedback := strings.TrimSpace(c.Feedback)
		if feedback == "" {
			feedback = strings.TrimSpace(reply.Body)
		}
		if err := p.Journal.AppendRevisionNote(draftPath, p.now(), feedback); err != nil {
			out.Action = "error"
			out.Detail = err.Error()
			p.Events.Warn(ctx, "reply.annotate_failed", "summary", draftPath, events.EventPayload{"error": err.Error()})
			return out
		}
		if err := p.Repo.InsertFeedback(ctx, domain.FeedbackNote{
			ID:        uuid.NewString(),
			DraftPath: draftPath,
			Text:      feedback,
			CreatedAt: p.now().UTC().Format(time.RFC3339),
		}); err != nil {
			out.Action = "error"
			out.Detail = err.Error()
			return out
		}
		out.Action = "annotated"
		p.Events.Append(ctx, "summary.revision_requested", "summary", draftPath, events.EventPayload{
			"feedback": feedback,
			"reply_id": reply.MessageID,
		})
		p.acknowledge(ctx, reply, draftPath, "Feedback Received", revisionBody(feedback))

	default:
		out.Action = "clarified"
		p.Events.Append(ctx, "reply.unclear", "reply", reply.MessageID, events.EventPayload{
			"from": reply.From,
		})
		p.acknowledge(ctx, reply, draftPath, "Clarification Needed", clarificationBody(reply.Body))
	}

	p.finish(ctx, reply, c.Intent, &draftPath)
	return out
}

// resolveDraft maps a thread to its draft and checks the draft is still a
// draft on disk. Unknown threads and already-finalized summaries are out of
// scope for the state machine.
func (p Processor) resolveDraft(ctx context.Context, threadID string) (string, bool) {
	msg, err := p.Repo.OutboundByThread(ctx, threadID)
	if err != nil || msg.DraftPath == nil {
		return "", false
	}
	path := *msg.DraftPath
	if !strings.HasSuffix(path, "-DRAFT.md") {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// classify asks the lightweight model for the reply intent. Empty bodies
// and classification failures collapse to UNCLEAR.
func (p Processor) classify(ctx context.Context, reply domain.Reply) domain.Classification {
	body := strings.TrimSpace(reply.Body)
	if body == "" {
		return domain.Classification{Intent: domain.IntentUnclear}
	}
	gen, err := p.LLM.Complete(ctx, llm.Request{
		Model:     p.Config.Anthropic.ClassifyModel,
		MaxTokens: p.Config.Anthropic.ClassifyMaxTokens,
		Prompt:    BuildClassifyPrompt(body),
	})
	if err != nil {
		cerr := &ClassificationError{MessageID: reply.MessageID, Err: err}
		p.Events.Warn(ctx, "reply.classify_failed", "reply", reply.MessageID, events.EventPayload{
			"error": cerr.Error(),
		})
		return domain.Classification{Intent: domain.IntentUnclear}
	}
	return ParseClassification(gen.Text)
}

// finish marks the reply consumed: Gmail-side (unread label) and in the
// processed set, so the next run never sees it again.
func (p Processor) finish(ctx context.Context, reply domain.Reply, intent string, draftPath *string) {
	if err := p.Mail.MarkRead(ctx, reply.MessageID); err != nil {
		p.Events.Warn(ctx, "reply.mark_read_failed", "reply", reply.MessageID, events.EventPayload{
			"error": err.Error(),
		})
	}
	if err := p.Repo.MarkReplyProcessed(ctx, domain.ProcessedReply{
		MessageID:   reply.MessageID,
		Intent:      intent,
		DraftPath:   draftPath,
		ProcessedAt: p.now().UTC().Format(time.RFC3339),
	}); err != nil {
		p.Events.Warn(ctx, "reply.record_failed", "reply", reply.MessageID, events.EventPayload{
			"error": err.Error(),
		})
	}
}

// acknowledge sends the confirmation mail on the same thread. The state
// transition already happened; a failed send is a warning for the next
// digest, never a rollback.
func (p Processor) acknowledge(ctx context.Context, reply domain.Reply, draftPath, subjectSuffix, body string) {
	subject := fmt.Sprintf("%s %s", p.Config.Email.SubjectPrefix, subjectSuffix)
	sent, err := p.Mail.Send(ctx, mail.Message{
		To:       p.Config.Email.To,
		From:     p.Config.Email.From,
		Subject:  subject,
		Body:     body,
		ThreadID: reply.ThreadID,
	})
	if err != nil {
		p.Events.Warn(ctx, "reply.ack_failed", "reply", reply.MessageID, events.EventPayload{
			"error": err.Error(),
		})
		return
	}
	if err := p.Repo.InsertOutbound(ctx, domain.OutboundMessage{
		ID:        uuid.NewString(),
		MessageID: sent.MessageID,
		ThreadID:  sent.ThreadID,
		Kind:      domain.OutboundConfirmation,
		DraftPath: &draftPath,
		Subject:   subject,
		SentAt:    p.now().UTC().Format(time.RFC3339),
	}); err != nil {
		p.Events.Warn(ctx, "reply.record_failed", "reply", reply.MessageID, events.EventPayload{
			"error": err.Error(),
		})
	}
}

// BuildClassifyPrompt renders the intent-classification prompt for one
// reply body.
func BuildClassifyPrompt(body string) string {
	return fmt.Sprintf(`Classify this email reply to a work journal summary.

The user received an automated bi-weekly summary of their work journal.
They replied to that email. Your job is to determine their intent.

<reply>
%s
</reply>

Classification rules:
- APPROVE: User wants to approve/accept the summary (e.g., "looks good", "yes", "approve", "ship it", "thanks", "great")
- REVISE: User wants changes or has feedback (e.g., "not quite", "more focus on X", "try again", "change...")
- UNCLEAR: Can't determine intent (empty, off-topic, confusing)

Respond in this exact format:
CLASSIFICATION: [APPROVE/REVISE/UNCLEAR]
FEEDBACK: [If REVISE, one sentence summarizing their feedback. Otherwise, leave empty.]

Examples:
---
Reply: "Looks good, thanks!"
CLASSIFICATION: APPROVE
FEEDBACK:
---
Reply: "Can you focus more on the Calendar project next time?"
CLASSIFICATION: REVISE
FEEDBACK: Focus more on the Calendar project.
---
Reply: "Hey, what's the weather like?"
CLASSIFICATION: UNCLEAR
FEEDBACK:
---

Now classify the reply above.`, body)
}

// ParseClassification reads the CLASSIFICATION/FEEDBACK line format. Any
// output that does not name an intent is UNCLEAR.
func ParseClassification(text string) domain.Classification {
	text = llm.StripFences(text)
	c := domain.Classification{Intent: domain.IntentUnclear}
	if m := classificationRe.FindStringSubmatch(text); m != nil {
		c.Intent = m[1]
	}
	if m := feedbackRe.FindStringSubmatch(text); m != nil {
		c.Feedback = strings.TrimSpace(m[1])
	}
	return c
}

func approvedBody() string {
	return `Got it! Your summary has been approved.

The draft has been converted to a finalized summary in your work journal.

- work-journal-summarizer bot
`
}

func revisionBody(feedback string) string {
	return fmt.Sprintf(`Understood! Your feedback has been noted.

Your feedback: "%s"

A revision note was added to the draft, and the next summary will
incorporate this feedback.

- work-journal-summarizer bot
`, feedback)
}

func clarificationBody(replyBody string) string {
	quoted := strings.TrimSpace(replyBody)
	if quoted == "" {
		quoted = "(empty reply)"
	} else if runes := []rune(quoted); len(runes) > 300 {
		quoted = string(runes[:300]) + "..."
	}
	var qb strings.Builder
	for _, line := range strings.Split(quoted, "\n") {
		qb.WriteString("> " + line + "\n")
	}
	return fmt.Sprintf(`I couldn't quite understand your reply:

%s
Please respond with one of:
- "approve" or "looks good" - to finalize the summary
- Describe what you'd like changed - to request revisions

- work-journal-summarizer bot
`, qb.String())
}

func (p Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
