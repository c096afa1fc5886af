package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pensa/internal/db"
	"pensa/internal/domain"
	"pensa/internal/repo"
	"pensa/internal/snapshot"
)

// Export writes issues, deps and comments to the snapshot files. Events are
// local history and stay out of the snapshot.
func (e Engine) Export(ctx context.Context) (domain.SyncResult, error) {
	var res domain.SyncResult
	err := e.Repo.WithReadTx(ctx, func(q repo.Querier) error {
		var (
			s   snapshot.Snapshot
			err error
		)
		if s.Issues, err = e.Repo.AllIssues(ctx, q); err != nil {
			return err
		}
		if s.Deps, err = e.Repo.AllDeps(ctx, q); err != nil {
			return err
		}
		if s.Comments, err = e.Repo.AllComments(ctx, q); err != nil {
			return err
		}
		if err := snapshot.Write(e.Dir, s); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		res = s.Counts()
		return nil
	})
	return res, err
}

// Import replaces the store's contents with the snapshot files in one
// transaction. Foreign keys are checked at commit so rows may arrive in any order.
func (e Engine) Import(ctx context.Context) (domain.SyncResult, error) {
	var res domain.SyncResult
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		s, err := snapshot.Read(e.Dir)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
			return err
		}
		if err := e.Repo.ClearAll(ctx, tx); err != nil {
			return err
		}
		for _, it := range s.Issues {
			if err := e.Repo.InsertIssue(ctx, tx, it); err != nil {
				return importError("issues", "issue "+it.ID, err)
			}
		}
		for _, d := range s.Deps {
			if err := e.Repo.InsertDep(ctx, tx, d); err != nil {
				return importError("deps", "dep "+d.IssueID+" -> "+d.DependsOnID, err)
			}
		}
		for _, c := range s.Comments {
			if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
				return importError("comments", "comment "+c.ID, err)
			}
		}
		violations, err := e.Repo.ForeignKeyViolations(ctx, tx)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return ValidationError{Field: "snapshot", Message: fmt.Sprintf("snapshot references missing rows: %s", strings.Join(violations, ", "))}
		}
		res = s.Counts()
		return nil
	})
	return res, err
}

// importError reports a row the schema rejected as a validation error and
// passes every other failure through with its cause intact.
func importError(field, row string, err error) error {
	if db.IsConstraint(err) {
		return ValidationError{Field: field, Message: fmt.Sprintf("import %s: %v", row, err)}
	}
	return fmt.Errorf("import %s: %w", row, err)
}

// AutoImport imports the snapshot when the store has no issues and snapshot
// files are present, as after a fresh clone. It reports whether it imported.
func (e Engine) AutoImport(ctx context.Context) (bool, domain.SyncResult, error) {
	if !snapshot.Exists(e.Dir) {
		return false, domain.SyncResult{}, nil
	}
	counts, err := e.CountIssues(ctx, "")
	if err != nil {
		return false, domain.SyncResult{}, err
	}
	if counts.Total > 0 {
		return false, domain.SyncResult{}, nil
	}
	res, err := e.Import(ctx)
	if err != nil {
		return false, domain.SyncResult{}, err
	}
	return true, res, nil
}
