package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pensa/internal/domain"
	"pensa/internal/repo"
)

func validateFilter(f repo.IssueFilter) error {
	if f.Status != "" && !domain.Status(f.Status).Valid() {
		return ValidationError{Field: "status", Message: fmt.Sprintf("invalid status %q", f.Status)}
	}
	if f.Priority != "" && !domain.Priority(f.Priority).Valid() {
		return ValidationError{Field: "priority", Message: fmt.Sprintf("invalid priority %q", f.Priority)}
	}
	if f.IssueType != "" && !domain.IssueType(f.IssueType).Valid() {
		return ValidationError{Field: "type", Message: fmt.Sprintf("invalid issue type %q", f.IssueType)}
	}
	if !repo.ValidSort(f.Sort) {
		return ValidationError{Field: "sort", Message: fmt.Sprintf("invalid sort %q (want one of %s)", f.Sort, strings.Join(repo.SortKeys(), ", "))}
	}
	if f.Limit < 0 {
		return ValidationError{Field: "limit", Message: "limit must not be negative"}
	}
	return nil
}

func (e Engine) ListIssues(ctx context.Context, f repo.IssueFilter) ([]domain.Issue, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	var res []domain.Issue
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.ListIssues(ctx, q, f)
		return err
	})
	return res, err
}

// ReadyIssues returns open tasks, tests and chores with no open blocker,
// most urgent first. The status filter is ignored.
func (e Engine) ReadyIssues(ctx context.Context, f repo.IssueFilter) ([]domain.Issue, error) {
	f.Status = ""
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	var res []domain.Issue
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.ReadyIssues(ctx, q, f)
		return err
	})
	return res, err
}

func (e Engine) BlockedIssues(ctx context.Context) ([]domain.Issue, error) {
	var res []domain.Issue
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.BlockedIssues(ctx, q)
		return err
	})
	return res, err
}

func (e Engine) SearchIssues(ctx context.Context, text string) ([]domain.Issue, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ValidationError{Field: "q", Message: "search text is required"}
	}
	var res []domain.Issue
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.SearchIssues(ctx, q, text)
		return err
	})
	return res, err
}

// CountIssues returns the total, grouped by status, priority, issue_type or
// assignee when groupBy is set.
func (e Engine) CountIssues(ctx context.Context, groupBy string) (domain.CountResult, error) {
	if groupBy != "" {
		ok := false
		for _, k := range repo.GroupKeys() {
			ok = ok || k == groupBy
		}
		if !ok {
			return domain.CountResult{}, ValidationError{Field: "group_by", Message: fmt.Sprintf("invalid grouping %q (want one of %s)", groupBy, strings.Join(repo.GroupKeys(), ", "))}
		}
	}
	var res domain.CountResult
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.CountIssues(ctx, q, groupBy)
		return err
	})
	return res, err
}

// ProjectStatus summarizes open, in_progress and closed counts per issue type.
func (e Engine) ProjectStatus(ctx context.Context) ([]domain.TypeStatus, error) {
	var res []domain.TypeStatus
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.StatusByType(ctx, q)
		return err
	})
	return res, err
}

// History returns the audit trail of an issue, newest first.
func (e Engine) History(ctx context.Context, id string) ([]domain.Event, error) {
	var res []domain.Event
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		if _, err := e.getIssue(ctx, q, id); err != nil {
			return err
		}
		var err error
		res, err = e.Repo.ListEvents(ctx, q, id)
		return err
	})
	return res, err
}

// EventsAfter pages through the audit log in insertion order.
func (e Engine) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	var res []domain.Event
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		res, err = e.Repo.EventsAfter(ctx, q, cursor, limit)
		return err
	})
	return res, err
}

func (e Engine) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var err error
		id, err = e.Repo.LatestEventID(ctx, q)
		return err
	})
	return id, err
}

func (e Engine) AddComment(ctx context.Context, issueID, actor, text string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, ValidationError{Field: "text", Message: "comment text is required"}
	}
	if strings.TrimSpace(actor) == "" {
		return domain.Comment{}, ValidationError{Field: "actor", Message: "actor is required"}
	}
	var c domain.Comment
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.getIssue(ctx, tx, issueID); err != nil {
			return err
		}
		id, err := e.uniqueID(func(id string) (bool, error) { return e.Repo.CommentExists(ctx, tx, id) })
		if err != nil {
			return err
		}
		c = domain.Comment{ID: id, IssueID: issueID, Actor: actor, Text: text, CreatedAt: e.timestamp()}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return e.event(ctx, tx, issueID, domain.EventCommented, actor, id)
	})
	return c, err
}

func (e Engine) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	var res []domain.Comment
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		if _, err := e.getIssue(ctx, q, issueID); err != nil {
			return err
		}
		var err error
		res, err = e.Repo.ListComments(ctx, q, issueID)
		return err
	})
	return res, err
}
