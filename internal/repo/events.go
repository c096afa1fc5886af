package repo

import (
	"context"
	"database/sql"

	"pensa/internal/domain"
)

const eventColumns = `id,issue_id,event_type,actor,detail,created_at`

// ListEvents returns the history of an issue, newest first.
func (r Repo) ListEvents(ctx context.Context, q Querier, issueID string) ([]domain.Event, error) {
	return r.queryEvents(ctx, q, `SELECT `+eventColumns+` FROM events WHERE issue_id=? ORDER BY id DESC`, issueID)
}

// EventsAfter returns up to limit events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, q Querier, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, q, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context, q Querier) (int64, error) {
	var id sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, q Querier, query string, args ...any) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var actor, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.IssueID, &e.EventType, &actor, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Actor = stringPtr(actor)
		e.Detail = stringPtr(detail)
		res = append(res, e)
	}
	return res, rows.Err()
}
