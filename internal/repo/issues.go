package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pensa/internal/db"
	"pensa/internal/domain"
)

const issueColumns = `id,title,description,issue_type,status,priority,spec,fixes,assignee,created_at,updated_at,closed_at,close_reason`

// IssueFilter narrows list queries. Empty fields match everything.
type IssueFilter struct {
	Status    string
	Priority  string
	Assignee  string
	IssueType string
	Spec      string
	Sort      string
	Limit     int
}

var sortOrders = map[string]string{
	"":         "priority ASC, created_at ASC, id ASC",
	"priority": "priority ASC, created_at ASC, id ASC",
	"created":  "created_at ASC, id ASC",
	"updated":  "updated_at ASC, id ASC",
	"status":   "CASE status WHEN 'in_progress' THEN 0 WHEN 'open' THEN 1 ELSE 2 END, priority ASC, created_at ASC, id ASC",
	"title":    "title COLLATE NOCASE ASC, id ASC",
}

// SortKeys lists the accepted IssueFilter.Sort values.
func SortKeys() []string {
	return []string{"priority", "created", "updated", "status", "title"}
}

// ValidSort reports whether s is an accepted sort key.
func ValidSort(s string) bool {
	_, ok := sortOrders[s]
	return ok
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (domain.Issue, error) {
	var it domain.Issue
	var desc, spec, fixes, assignee, closedAt, reason sql.NullString
	err := row.Scan(&it.ID, &it.Title, &desc, &it.IssueType, &it.Status, &it.Priority, &spec, &fixes, &assignee,
		&it.CreatedAt, &it.UpdatedAt, &closedAt, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Description = stringPtr(desc)
	it.Spec = stringPtr(spec)
	it.Fixes = stringPtr(fixes)
	it.Assignee = stringPtr(assignee)
	it.ClosedAt = stringPtr(closedAt)
	it.CloseReason = stringPtr(reason)
	return it, nil
}

func collectIssues(rows *sql.Rows) ([]domain.Issue, error) {
	defer rows.Close()
	res := []domain.Issue{}
	for rows.Next() {
		it, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) InsertIssue(ctx context.Context, q Querier, it domain.Issue) error {
	_, err := q.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Title, nullableStringPtr(it.Description), it.IssueType, it.Status, it.Priority,
		nullableStringPtr(it.Spec), nullableStringPtr(it.Fixes), nullableStringPtr(it.Assignee),
		it.CreatedAt, it.UpdatedAt, nullableStringPtr(it.ClosedAt), nullableStringPtr(it.CloseReason))
	return err
}

func (r Repo) GetIssue(ctx context.Context, q Querier, id string) (domain.Issue, error) {
	return scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

func (r Repo) IssueExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM issues WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateIssueFields writes the non-nil fields of the patch. Column names come
// from a fixed list, never from the caller.
func (r Repo) UpdateIssueFields(ctx context.Context, q Querier, id string, p domain.IssuePatch, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if p.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*p.Description))
	}
	if p.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *p.Priority)
	}
	if p.Assignee != nil {
		fields = append(fields, "assignee=?")
		args = append(args, nullable(*p.Assignee))
	}
	if p.Spec != nil {
		fields = append(fields, "spec=?")
		args = append(args, nullable(*p.Spec))
	}
	if p.Fixes != nil {
		fields = append(fields, "fixes=?")
		args = append(args, nullable(*p.Fixes))
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE issues SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimIssue moves an open issue to in_progress in one conditional statement.
// It returns false when the issue was not open (or does not exist).
func (r Repo) ClaimIssue(ctx context.Context, q Querier, id, actor, updatedAt string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE issues SET status='in_progress', assignee=?, updated_at=? WHERE id=? AND status='open'`,
		actor, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseIssue returns a non-closed issue to open and clears its assignee.
func (r Repo) ReleaseIssue(ctx context.Context, q Querier, id, updatedAt string) error {
	_, err := q.ExecContext(ctx, `UPDATE issues SET status='open', assignee=NULL, updated_at=? WHERE id=? AND status!='closed'`, updatedAt, id)
	return err
}

func (r Repo) CloseIssue(ctx context.Context, q Querier, id, reason, closedAt string) error {
	_, err := q.ExecContext(ctx, `UPDATE issues SET status='closed', closed_at=?, close_reason=?, updated_at=? WHERE id=?`,
		closedAt, nullable(reason), closedAt, id)
	return err
}

func (r Repo) ReopenIssue(ctx context.Context, q Querier, id, updatedAt string) error {
	_, err := q.ExecContext(ctx, `UPDATE issues SET status='open', closed_at=NULL, close_reason=NULL, assignee=NULL, updated_at=? WHERE id=?`,
		updatedAt, id)
	return err
}

// DeleteIssue removes the issue and everything that references it.
func (r Repo) DeleteIssue(ctx context.Context, q Querier, id string) error {
	stmts := []string{
		`DELETE FROM events WHERE issue_id=?1`,
		`DELETE FROM comments WHERE issue_id=?1`,
		`DELETE FROM deps WHERE issue_id=?1 OR depends_on_id=?1`,
		`UPDATE issues SET fixes=NULL WHERE fixes=?1`,
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	res, err := q.ExecContext(ctx, `DELETE FROM issues WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func filterClauses(f IssueFilter) ([]string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	if f.IssueType != "" {
		clauses = append(clauses, "issue_type=?")
		args = append(args, f.IssueType)
	}
	if f.Spec != "" {
		clauses = append(clauses, "spec=?")
		args = append(args, f.Spec)
	}
	return clauses, args
}

func listQuery(clauses []string, args []any, f IssueFilter) (string, []any, error) {
	order, ok := sortOrders[f.Sort]
	if !ok {
		return "", nil, fmt.Errorf("invalid sort %q", f.Sort)
	}
	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY " + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return query, args, nil
}

func (r Repo) ListIssues(ctx context.Context, q Querier, f IssueFilter) ([]domain.Issue, error) {
	clauses, args := filterClauses(f)
	query, args, err := listQuery(clauses, args, f)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

const openBlockerExists = `EXISTS (SELECT 1 FROM deps d JOIN issues b ON b.id=d.depends_on_id WHERE d.issue_id=issues.id AND b.status!='closed')`

// ReadyIssues returns open, workable issues with no open blocker.
func (r Repo) ReadyIssues(ctx context.Context, q Querier, f IssueFilter) ([]domain.Issue, error) {
	f.Status = ""
	clauses, args := filterClauses(f)
	clauses = append(clauses,
		"status='open'",
		"issue_type IN ('task','test','chore')",
		"NOT "+openBlockerExists,
	)
	query, args, err := listQuery(clauses, args, f)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

// BlockedIssues returns non-closed issues that wait on at least one open blocker.
func (r Repo) BlockedIssues(ctx context.Context, q Querier) ([]domain.Issue, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE status!='closed' AND `+openBlockerExists+
		` ORDER BY `+sortOrders[""])
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchIssues matches a case-insensitive substring of title or description.
func (r Repo) SearchIssues(ctx context.Context, q Querier, text string) ([]domain.Issue, error) {
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	rows, err := q.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues
WHERE `+db.UnicodeLower+`(title) LIKE ? ESCAPE '\' OR `+db.UnicodeLower+`(COALESCE(description,'')) LIKE ? ESCAPE '\'
ORDER BY `+sortOrders[""], pattern, pattern)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

var groupColumns = map[string]string{
	"status":     "status",
	"priority":   "priority",
	"issue_type": "issue_type",
	"assignee":   "COALESCE(assignee,'unassigned')",
}

// GroupKeys lists the accepted CountIssues groupings.
func GroupKeys() []string {
	return []string{"status", "priority", "issue_type", "assignee"}
}

// CountIssues returns the total, and per-group counts when groupBy is set.
func (r Repo) CountIssues(ctx context.Context, q Querier, groupBy string) (domain.CountResult, error) {
	var res domain.CountResult
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM issues`).Scan(&res.Total); err != nil {
		return res, err
	}
	if groupBy == "" {
		return res, nil
	}
	col, ok := groupColumns[groupBy]
	if !ok {
		return res, fmt.Errorf("invalid group %q", groupBy)
	}
	rows, err := q.QueryContext(ctx, `SELECT `+col+` AS k, COUNT(1) FROM issues GROUP BY k ORDER BY k`)
	if err != nil {
		return res, err
	}
	defer rows.Close()
	res.Groups = []domain.CountGroup{}
	for rows.Next() {
		var g domain.CountGroup
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return res, err
		}
		res.Groups = append(res.Groups, g)
	}
	return res, rows.Err()
}

// StatusByType returns open/in_progress/closed counts for every issue type,
// including types with no issues.
func (r Repo) StatusByType(ctx context.Context, q Querier) ([]domain.TypeStatus, error) {
	rows, err := q.QueryContext(ctx, `SELECT issue_type,
SUM(CASE WHEN status='open' THEN 1 ELSE 0 END),
SUM(CASE WHEN status='in_progress' THEN 1 ELSE 0 END),
SUM(CASE WHEN status='closed' THEN 1 ELSE 0 END)
FROM issues GROUP BY issue_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byType := map[domain.IssueType]domain.TypeStatus{}
	for rows.Next() {
		var s domain.TypeStatus
		if err := rows.Scan(&s.IssueType, &s.Open, &s.InProgress, &s.Closed); err != nil {
			return nil, err
		}
		byType[s.IssueType] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.TypeStatus, 0, len(domain.IssueTypes))
	for _, t := range domain.IssueTypes {
		s := byType[t]
		s.IssueType = t
		res = append(res, s)
	}
	return res, nil
}

// IssuesByIDs loads the given issues, skipping ids that do not exist.
func (r Repo) IssuesByIDs(ctx context.Context, q Querier, ids []string) (map[string]domain.Issue, error) {
	res := make(map[string]domain.Issue, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	items, err := collectIssues(rows)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		res[it.ID] = it
	}
	return res, nil
}

// AllIssues returns every issue in snapshot order.
func (r Repo) AllIssues(ctx context.Context, q Querier) ([]domain.Issue, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

// ClearAll empties every domain table, children first.
func (r Repo) ClearAll(ctx context.Context, q Querier) error {
	for _, table := range []string{"events", "comments", "deps", "issues"} {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
