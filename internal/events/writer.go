package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
)

// Writer appends audit rows. Passes record what they did here; warn rows
// written since the previous heartbeat are echoed into the next digest.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID string, payload EventPayload) error {
	return w.append(ctx, domain.LevelInfo, evtType, entityKind, entityID, payload)
}

// Warn records a non-fatal failure, such as a delivery error after a draft
// was already finalized or a feed that could not be fetched.
func (w Writer) Warn(ctx context.Context, evtType, entityKind, entityID string, payload EventPayload) error {
	return w.append(ctx, domain.LevelWarn, evtType, entityKind, entityID, payload)
}

func (w Writer) append(ctx context.Context, level, evtType, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,level,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, level, entityKind, nullable(entityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
