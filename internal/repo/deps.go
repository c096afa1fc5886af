package repo

import (
	"context"

	"pensa/internal/domain"
)

func (r Repo) InsertDep(ctx context.Context, q Querier, d domain.Dep) error {
	_, err := q.ExecContext(ctx, `INSERT INTO deps(issue_id,depends_on_id) VALUES (?,?)`, d.IssueID, d.DependsOnID)
	return err
}

func (r Repo) DepExists(ctx context.Context, q Querier, d domain.Dep) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM deps WHERE issue_id=? AND depends_on_id=?`, d.IssueID, d.DependsOnID).Scan(&n)
	return n > 0, err
}

func (r Repo) DeleteDep(ctx context.Context, q Querier, d domain.Dep) error {
	res, err := q.ExecContext(ctx, `DELETE FROM deps WHERE issue_id=? AND depends_on_id=?`, d.IssueID, d.DependsOnID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Blockers returns the issues id directly depends on.
func (r Repo) Blockers(ctx context.Context, q Querier, id string) ([]domain.Issue, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+prefixed("i", issueColumns)+` FROM deps d JOIN issues i ON i.id=d.depends_on_id
WHERE d.issue_id=? ORDER BY i.priority, i.created_at, i.id`, id)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

// DependentCount returns how many issues depend on id.
func (r Repo) DependentCount(ctx context.Context, q Querier, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM deps WHERE depends_on_id=?`, id).Scan(&n)
	return n, err
}

// AllDeps returns every edge ordered by (issue_id, depends_on_id).
func (r Repo) AllDeps(ctx context.Context, q Querier) ([]domain.Dep, error) {
	return r.queryDeps(ctx, q, `SELECT issue_id,depends_on_id FROM deps ORDER BY issue_id, depends_on_id`)
}

// OrphanDeps returns edges whose endpoints no longer exist.
func (r Repo) OrphanDeps(ctx context.Context, q Querier) ([]domain.Dep, error) {
	return r.queryDeps(ctx, q, `SELECT issue_id,depends_on_id FROM deps
WHERE issue_id NOT IN (SELECT id FROM issues) OR depends_on_id NOT IN (SELECT id FROM issues)
ORDER BY issue_id, depends_on_id`)
}

func (r Repo) queryDeps(ctx context.Context, q Querier, query string, args ...any) ([]domain.Dep, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Dep{}
	for rows.Next() {
		var d domain.Dep
		if err := rows.Scan(&d.IssueID, &d.DependsOnID); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func prefixed(alias, columns string) string {
	out := make([]byte, 0, len(columns)*2)
	out = append(out, alias...)
	out = append(out, '.')
	for i := 0; i < len(columns); i++ {
		out = append(out, columns[i])
		if columns[i] == ',' {
			out = append(out, alias...)
			out = append(out, '.')
		}
	}
	return string(out)
}
