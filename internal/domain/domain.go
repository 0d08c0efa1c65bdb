package domain

import "time"

// Entry is one dated journal file under daily-entries. Entries are written by
// the user and never modified here except by checkpoint merges.
type Entry struct {
	Date time.Time `json:"date"`
	Path string    `json:"path"`
	Text string    `json:"text"`
}

// Checkpoint is a staged note under daily-staging waiting to be merged into
// the entry for its date. CreatedAt comes from the file's mtime and orders
// merges within a date.
type Checkpoint struct {
	Date      time.Time `json:"date"`
	Path      string    `json:"path"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Draft statuses. A finalized summary never goes back to draft.
const (
	StatusDraft     = "draft"
	StatusFinalized = "finalized"
)

// Draft is a periodic summary file. Status is derived from the filename:
// the -DRAFT suffix marks a draft, its absence a finalized summary.
type Draft struct {
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Days       int       `json:"days"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`
}

// Reply intents. Anything the classifier cannot place lands on UNCLEAR.
const (
	IntentApprove = "APPROVE"
	IntentRevise  = "REVISE"
	IntentUnclear = "UNCLEAR"
)

// Reply is one unread answer to a message we sent.
type Reply struct {
	MessageID  string `json:"message_id"`
	ThreadID   string `json:"thread_id"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

// Classification is the parsed model verdict for one reply.
type Classification struct {
	Intent   string `json:"intent"`
	Feedback string `json:"feedback,omitempty"`
}

// Headline is one fetched feed item. Title and Summary are plain text with
// any feed HTML stripped.
type Headline struct {
	Source    string     `json:"source"`
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Summary   string     `json:"summary,omitempty"`
	Published *time.Time `json:"published,omitempty"`
}

// Outbound message kinds.
const (
	OutboundSummary      = "summary"
	OutboundHeartbeat    = "heartbeat"
	OutboundConfirmation = "confirmation"
)

// OutboundMessage records a mail we sent so replies can be resolved back to
// the draft they concern via the Gmail thread id.
type OutboundMessage struct {
	ID        string  `json:"id"`
	MessageID string  `json:"message_id"`
	ThreadID  string  `json:"thread_id"`
	Kind      string  `json:"kind"`
	DraftPath *string `json:"draft_path,omitempty"`
	Subject   string  `json:"subject"`
	SentAt    string  `json:"sent_at"`
}

// ProcessedReply marks a reply message id as handled so re-runs skip it.
type ProcessedReply struct {
	MessageID   string  `json:"message_id"`
	Intent      string  `json:"intent"`
	DraftPath   *string `json:"draft_path,omitempty"`
	ProcessedAt string  `json:"processed_at"`
}

// FeedbackNote is revision feedback captured from a REVISE reply. Notes stay
// pending until a later generation embeds them in its prompt.
type FeedbackNote struct {
	ID         string  `json:"id"`
	DraftPath  string  `json:"draft_path"`
	Text       string  `json:"text"`
	CreatedAt  string  `json:"created_at"`
	ConsumedAt *string `json:"consumed_at,omitempty"`
}

// Event levels.
const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

// Event is one audit row. Warn rows written since the previous heartbeat are
// echoed into the next digest.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Level      string `json:"level"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
