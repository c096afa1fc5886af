package engine

import (
	"context"
	"database/sql"

	"pensa/internal/domain"
	"pensa/internal/repo"
)

const doctorActor = "doctor"

// Doctor reports in_progress claims and dependency edges whose endpoints are
// gone. Whether a claim is stale is the caller's call: the report lists every
// in_progress issue, and fix releases all of them and drops the orphan edges.
func (e Engine) Doctor(ctx context.Context, fix bool) (domain.DoctorReport, error) {
	var report domain.DoctorReport
	scan := func(q repo.Querier) error {
		var err error
		report.StaleClaims, err = e.Repo.ListIssues(ctx, q, repo.IssueFilter{Status: string(domain.StatusInProgress)})
		if err != nil {
			return err
		}
		report.OrphanDeps, err = e.Repo.OrphanDeps(ctx, q)
		return err
	}
	if !fix {
		err := e.Repo.WithReadTx(ctx, scan)
		return report, err
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := scan(tx); err != nil {
			return err
		}
		fixed := &domain.DoctorFixes{}
		now := e.timestamp()
		for _, it := range report.StaleClaims {
			if err := e.Repo.ReleaseIssue(ctx, tx, it.ID, now); err != nil {
				return err
			}
			if err := e.event(ctx, tx, it.ID, domain.EventReleased, doctorActor, deref(it.Assignee)); err != nil {
				return err
			}
			fixed.ReleasedClaims++
		}
		for _, d := range report.OrphanDeps {
			if err := e.Repo.DeleteDep(ctx, tx, d); err != nil {
				return err
			}
			fixed.RemovedDeps++
		}
		report.Fixed = fixed
		return nil
	})
	return report, err
}
