package engine

import (
	"errors"
	"fmt"

	"pensa/internal/domain"
	"pensa/internal/repo"
)

// NotFoundError names the missing entity. It matches repo.ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

type AlreadyClaimedError struct {
	ID     string
	Holder string
}

func (e AlreadyClaimedError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("issue %s is already claimed", e.ID)
	}
	return fmt.Sprintf("issue %s is already claimed by %s", e.ID, e.Holder)
}

var ErrCycleDetected = errors.New("dependency would create a cycle")

type InvalidTransitionError struct {
	ID   string
	From domain.Status
	To   domain.Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("issue %s cannot move from %s to %s", e.ID, e.From, e.To)
}

type DeleteRequiresForceError struct {
	ID         string
	Dependents int
	Comments   int
}

func (e DeleteRequiresForceError) Error() string {
	return fmt.Sprintf("issue %s has %d dependent(s) and %d comment(s); use force to delete", e.ID, e.Dependents, e.Comments)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func issueNotFound(id string) error {
	return NotFoundError{Kind: "issue", ID: id}
}

// notFoundAs converts repo.ErrNotFound into a NotFoundError for the given entity.
func notFoundAs(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		var nf NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return NotFoundError{Kind: kind, ID: id}
	}
	return err
}
