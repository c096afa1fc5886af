package events

import (
	"context"
	"time"

	"pensa/internal/domain"
	"pensa/internal/repo"
)

// Writer appends audit events. The log has no update or delete path: rows
// disappear only when their issue is deleted or the store is re-imported.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, q repo.Querier, issueID string, kind domain.EventType, actor, detail string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	_, err := q.ExecContext(ctx, `INSERT INTO events(issue_id,event_type,actor,detail,created_at) VALUES (?,?,?,?,?)`,
		issueID, kind, nullable(actor), nullable(detail), domain.FormatTime(w.Now()))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
