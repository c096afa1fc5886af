package repo

import (
	"context"

	"pensa/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, q Querier, c domain.Comment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO comments(id,issue_id,actor,text,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.IssueID, c.Actor, c.Text, c.CreatedAt)
	return err
}

// ListComments returns the comments on an issue, oldest first.
func (r Repo) ListComments(ctx context.Context, q Querier, issueID string) ([]domain.Comment, error) {
	return r.queryComments(ctx, q, `SELECT id,issue_id,actor,text,created_at FROM comments WHERE issue_id=? ORDER BY created_at, id`, issueID)
}

func (r Repo) AllComments(ctx context.Context, q Querier) ([]domain.Comment, error) {
	return r.queryComments(ctx, q, `SELECT id,issue_id,actor,text,created_at FROM comments ORDER BY created_at, id`)
}

func (r Repo) CommentCount(ctx context.Context, q Querier, issueID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM comments WHERE issue_id=?`, issueID).Scan(&n)
	return n, err
}

func (r Repo) queryComments(ctx context.Context, q Querier, query string, args ...any) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Actor, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CommentExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM comments WHERE id=?`, id).Scan(&n)
	return n > 0, err
}
