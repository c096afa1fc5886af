package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pensa/internal/domain"
	"pensa/internal/graph"
	"pensa/internal/repo"
)

func (e Engine) adjacency(ctx context.Context, q repo.Querier) (forward, reverse graph.Adjacency, err error) {
	deps, err := e.Repo.AllDeps(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	edges := make([][2]string, len(deps))
	for i, d := range deps {
		edges[i] = [2]string{d.IssueID, d.DependsOnID}
	}
	forward, reverse = graph.FromEdges(edges)
	return forward, reverse, nil
}

// AddDep records that dependent cannot proceed until blocker is closed. An
// edge that would close a loop is rejected; adding an existing edge is a no-op.
func (e Engine) AddDep(ctx context.Context, dependent, blocker, actor string) (domain.Dep, error) {
	dep := domain.Dep{IssueID: dependent, DependsOnID: blocker}
	if dependent == blocker {
		return dep, fmt.Errorf("%w: %s cannot depend on itself", ErrCycleDetected, dependent)
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.getIssue(ctx, tx, dependent); err != nil {
			return err
		}
		if _, err := e.getIssue(ctx, tx, blocker); err != nil {
			return err
		}
		exists, err := e.Repo.DepExists(ctx, tx, dep)
		if err != nil || exists {
			return err
		}
		forward, _, err := e.adjacency(ctx, tx)
		if err != nil {
			return err
		}
		if graph.Reachable(forward, blocker, dependent) {
			return fmt.Errorf("%w: %s already depends on %s", ErrCycleDetected, blocker, dependent)
		}
		if err := e.Repo.InsertDep(ctx, tx, dep); err != nil {
			return fmt.Errorf("insert dep: %w", err)
		}
		return e.event(ctx, tx, dependent, domain.EventDepAdded, actor, blocker)
	})
	return dep, err
}

func (e Engine) RemoveDep(ctx context.Context, dependent, blocker, actor string) error {
	dep := domain.Dep{IssueID: dependent, DependsOnID: blocker}
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteDep(ctx, tx, dep); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NotFoundError{Kind: "dependency", ID: dependent + " -> " + blocker}
			}
			return err
		}
		return e.event(ctx, tx, dependent, domain.EventDepRemoved, actor, blocker)
	})
}

// ListDeps returns the direct blockers of an issue.
func (e Engine) ListDeps(ctx context.Context, id string) ([]domain.Issue, error) {
	var res []domain.Issue
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		if _, err := e.getIssue(ctx, q, id); err != nil {
			return err
		}
		var err error
		res, err = e.Repo.Blockers(ctx, q, id)
		return err
	})
	return res, err
}

// DepTree flattens the transitive closure around id, breadth first. Down
// follows the issues id blocks; up follows the issues blocking id.
func (e Engine) DepTree(ctx context.Context, id string, dir domain.Direction) ([]domain.DepTreeNode, error) {
	if dir == "" {
		dir = domain.DirectionDown
	}
	if dir != domain.DirectionDown && dir != domain.DirectionUp {
		return nil, ValidationError{Field: "direction", Message: fmt.Sprintf("invalid direction %q", dir)}
	}
	res := []domain.DepTreeNode{}
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		if _, err := e.getIssue(ctx, q, id); err != nil {
			return err
		}
		forward, reverse, err := e.adjacency(ctx, q)
		if err != nil {
			return err
		}
		adj := reverse
		if dir == domain.DirectionUp {
			adj = forward
		}
		visits := graph.Walk(adj, id)
		ids := make([]string, len(visits))
		for i, v := range visits {
			ids[i] = v.ID
		}
		issues, err := e.Repo.IssuesByIDs(ctx, q, ids)
		if err != nil {
			return err
		}
		for _, v := range visits {
			it, ok := issues[v.ID]
			if !ok {
				continue
			}
			res = append(res, domain.DepTreeNode{
				ID:        it.ID,
				Title:     it.Title,
				Status:    it.Status,
				Priority:  it.Priority,
				IssueType: it.IssueType,
				Depth:     v.Depth,
			})
		}
		return nil
	})
	return res, err
}

// DetectCycles scans the whole graph. With insertion guarded by AddDep this
// is empty unless the store was edited by other means.
func (e Engine) DetectCycles(ctx context.Context) ([][]string, error) {
	var cycles [][]string
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		forward, _, err := e.adjacency(ctx, q)
		if err != nil {
			return err
		}
		cycles = graph.Cycles(forward)
		return nil
	})
	return cycles, err
}
