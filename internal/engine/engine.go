package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pensa/internal/domain"
	"pensa/internal/events"
	"pensa/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Dir is the .pensa directory holding the JSONL snapshot.
	Dir string
	Now func() time.Time
}

func New(db *sql.DB, dir string) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.New(db),
		Events: events.Writer{},
		Dir:    dir,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) event(ctx context.Context, q repo.Querier, issueID string, kind domain.EventType, actor, detail string) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, q, issueID, kind, actor, detail); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

func (e Engine) uniqueID(exists func(string) (bool, error)) (string, error) {
	for i := 0; i < 8; i++ {
		id, err := domain.NewID()
		if err != nil {
			return "", err
		}
		taken, err := exists(id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a unique id")
}

func (e Engine) getIssue(ctx context.Context, q repo.Querier, id string) (domain.Issue, error) {
	it, err := e.Repo.GetIssue(ctx, q, id)
	if err != nil {
		return domain.Issue{}, notFoundAs(err, "issue", id)
	}
	return it, nil
}

// CreateOptions are parameters for creating an issue.
type CreateOptions struct {
	Title       string
	Description string
	IssueType   domain.IssueType
	Priority    domain.Priority
	Spec        string
	Fixes       string
	Assignee    string
	Deps        []string
	Actor       string
}

func (e Engine) CreateIssue(ctx context.Context, opts CreateOptions) (domain.Issue, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Issue{}, ValidationError{Field: "title", Message: "title is required"}
	}
	if !opts.IssueType.Valid() {
		return domain.Issue{}, ValidationError{Field: "issue_type", Message: fmt.Sprintf("invalid issue type %q", opts.IssueType)}
	}
	if opts.Priority == "" {
		opts.Priority = domain.DefaultPriority
	}
	if !opts.Priority.Valid() {
		return domain.Issue{}, ValidationError{Field: "priority", Message: fmt.Sprintf("invalid priority %q", opts.Priority)}
	}

	var created domain.Issue
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if opts.Fixes != "" {
			if _, err := e.getIssue(ctx, tx, opts.Fixes); err != nil {
				return err
			}
		}
		for _, dep := range opts.Deps {
			if _, err := e.getIssue(ctx, tx, dep); err != nil {
				return err
			}
		}
		id, err := e.uniqueID(func(id string) (bool, error) { return e.Repo.IssueExists(ctx, tx, id) })
		if err != nil {
			return err
		}
		now := e.timestamp()
		it := domain.Issue{
			ID:          id,
			Title:       title,
			Description: optionalString(opts.Description),
			IssueType:   opts.IssueType,
			Status:      domain.StatusOpen,
			Priority:    opts.Priority,
			Spec:        optionalString(opts.Spec),
			Fixes:       optionalString(opts.Fixes),
			Assignee:    optionalString(opts.Assignee),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertIssue(ctx, tx, it); err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		if err := e.event(ctx, tx, id, domain.EventCreated, opts.Actor, it.Title); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, dep := range opts.Deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if err := e.Repo.InsertDep(ctx, tx, domain.Dep{IssueID: id, DependsOnID: dep}); err != nil {
				return fmt.Errorf("insert dep: %w", err)
			}
			if err := e.event(ctx, tx, id, domain.EventDepAdded, opts.Actor, dep); err != nil {
				return err
			}
		}
		created = it
		return nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	return created, nil
}

// GetIssue returns the issue with its direct blockers and comments.
func (e Engine) GetIssue(ctx context.Context, id string) (domain.IssueDetail, error) {
	var detail domain.IssueDetail
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		it, err := e.getIssue(ctx, q, id)
		if err != nil {
			return err
		}
		deps, err := e.Repo.Blockers(ctx, q, id)
		if err != nil {
			return err
		}
		comments, err := e.Repo.ListComments(ctx, q, id)
		if err != nil {
			return err
		}
		detail = domain.IssueDetail{Issue: it, Deps: deps, Comments: comments}
		return nil
	})
	return detail, err
}

// UpdateIssue applies the non-nil fields of the patch. Status is not part of
// a patch; it moves only through claim, release, close and reopen.
func (e Engine) UpdateIssue(ctx context.Context, id string, patch domain.IssuePatch, actor string) (domain.Issue, error) {
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return domain.Issue{}, ValidationError{Field: "title", Message: "title cannot be empty"}
		}
		patch.Title = &t
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return domain.Issue{}, ValidationError{Field: "priority", Message: fmt.Sprintf("invalid priority %q", *patch.Priority)}
	}
	var updated domain.Issue
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.getIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.IssueType != nil && *patch.IssueType != cur.IssueType {
			return ValidationError{Field: "issue_type", Message: "issue type cannot be changed after creation"}
		}
		patch.IssueType = nil
		if patch.Fixes != nil && *patch.Fixes != "" {
			if *patch.Fixes == id {
				return ValidationError{Field: "fixes", Message: "an issue cannot fix itself"}
			}
			if _, err := e.getIssue(ctx, tx, *patch.Fixes); err != nil {
				return err
			}
		}
		if patch.Assignee != nil && cur.Status == domain.StatusInProgress && *patch.Assignee != deref(cur.Assignee) {
			return ValidationError{Field: "assignee", Message: "the assignee of an in_progress issue changes only through release, then claim"}
		}
		changed := changedFields(cur, patch)
		if len(changed) == 0 {
			updated = cur
			return nil
		}
		if err := e.Repo.UpdateIssueFields(ctx, tx, id, patch, e.timestamp()); err != nil {
			return err
		}
		if err := e.event(ctx, tx, id, domain.EventUpdated, actor, strings.Join(changed, ",")); err != nil {
			return err
		}
		updated, err = e.getIssue(ctx, tx, id)
		return err
	})
	return updated, err
}

func changedFields(cur domain.Issue, p domain.IssuePatch) []string {
	var out []string
	diff := func(name string, next *string, prev *string) {
		if next == nil {
			return
		}
		if *next != deref(prev) {
			out = append(out, name)
		}
	}
	if p.Title != nil && *p.Title != cur.Title {
		out = append(out, "title")
	}
	diff("description", p.Description, cur.Description)
	if p.Priority != nil && *p.Priority != cur.Priority {
		out = append(out, "priority")
	}
	diff("assignee", p.Assignee, cur.Assignee)
	diff("spec", p.Spec, cur.Spec)
	diff("fixes", p.Fixes, cur.Fixes)
	return out
}

// ClaimIssue moves an open issue to in_progress for actor. The check and the
// write are one conditional statement, so exactly one of several racing
// claimants succeeds.
func (e Engine) ClaimIssue(ctx context.Context, id, actor string) (domain.Issue, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.Issue{}, ValidationError{Field: "actor", Message: "actor is required to claim"}
	}
	var claimed domain.Issue
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.ClaimIssue(ctx, tx, id, actor, e.timestamp())
		if err != nil {
			return err
		}
		if !ok {
			cur, err := e.getIssue(ctx, tx, id)
			if err != nil {
				return err
			}
			if cur.Status == domain.StatusClosed {
				return InvalidTransitionError{ID: id, From: cur.Status, To: domain.StatusInProgress}
			}
			return AlreadyClaimedError{ID: id, Holder: deref(cur.Assignee)}
		}
		if err := e.event(ctx, tx, id, domain.EventClaimed, actor, ""); err != nil {
			return err
		}
		claimed, err = e.getIssue(ctx, tx, id)
		return err
	})
	return claimed, err
}

// ReleaseIssue returns a claimed issue to the open pool. Releasing an open,
// unassigned issue changes nothing.
func (e Engine) ReleaseIssue(ctx context.Context, id, actor string) (domain.Issue, error) {
	var released domain.Issue
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.getIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status == domain.StatusClosed {
			return InvalidTransitionError{ID: id, From: cur.Status, To: domain.StatusOpen}
		}
		if cur.Status == domain.StatusOpen && cur.Assignee == nil {
			released = cur
			return nil
		}
		if err := e.Repo.ReleaseIssue(ctx, tx, id, e.timestamp()); err != nil {
			return err
		}
		if err := e.event(ctx, tx, id, domain.EventReleased, actor, deref(cur.Assignee)); err != nil {
			return err
		}
		released, err = e.getIssue(ctx, tx, id)
		return err
	})
	return released, err
}

// CloseIssue closes an issue. If it fixes another issue, that one is closed
// in the same transaction.
func (e Engine) CloseIssue(ctx context.Context, id, reason string, force bool, actor string) (domain.Issue, error) {
	var closed domain.Issue
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.getIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status == domain.StatusClosed && !force {
			return InvalidTransitionError{ID: id, From: cur.Status, To: domain.StatusClosed}
		}
		now := e.timestamp()
		if err := e.Repo.CloseIssue(ctx, tx, id, reason, now); err != nil {
			return err
		}
		if err := e.event(ctx, tx, id, domain.EventClosed, actor, reason); err != nil {
			return err
		}
		if cur.Fixes != nil {
			target, err := e.getIssue(ctx, tx, *cur.Fixes)
			if err != nil {
				return err
			}
			if target.Status != domain.StatusClosed {
				fixedBy := "fixed by " + id
				if err := e.Repo.CloseIssue(ctx, tx, target.ID, fixedBy, now); err != nil {
					return err
				}
				if err := e.event(ctx, tx, target.ID, domain.EventClosed, actor, fixedBy); err != nil {
					return err
				}
			}
		}
		closed, err = e.getIssue(ctx, tx, id)
		return err
	})
	return closed, err
}

func (e Engine) ReopenIssue(ctx context.Context, id, reason, actor string) (domain.Issue, error) {
	var reopened domain.Issue
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.getIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusClosed {
			return InvalidTransitionError{ID: id, From: cur.Status, To: domain.StatusOpen}
		}
		if err := e.Repo.ReopenIssue(ctx, tx, id, e.timestamp()); err != nil {
			return err
		}
		if err := e.event(ctx, tx, id, domain.EventReopened, actor, reason); err != nil {
			return err
		}
		reopened, err = e.getIssue(ctx, tx, id)
		return err
	})
	return reopened, err
}

// DeleteIssue removes an issue with its events, comments and edges. An issue
// that others depend on, or that has comments, needs force.
func (e Engine) DeleteIssue(ctx context.Context, id string, force bool) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.getIssue(ctx, tx, id); err != nil {
			return err
		}
		dependents, err := e.Repo.DependentCount(ctx, tx, id)
		if err != nil {
			return err
		}
		comments, err := e.Repo.CommentCount(ctx, tx, id)
		if err != nil {
			return err
		}
		if (dependents > 0 || comments > 0) && !force {
			return DeleteRequiresForceError{ID: id, Dependents: dependents, Comments: comments}
		}
		return e.Repo.DeleteIssue(ctx, tx, id)
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
