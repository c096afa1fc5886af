package domain

import (
	"fmt"
	"strings"
)

type IssueType string

const (
	TypeBug   IssueType = "bug"
	TypeTask  IssueType = "task"
	TypeTest  IssueType = "test"
	TypeChore IssueType = "chore"
)

var IssueTypes = []IssueType{TypeBug, TypeTask, TypeTest, TypeChore}

func (t IssueType) Valid() bool {
	switch t {
	case TypeBug, TypeTask, TypeTest, TypeChore:
		return true
	}
	return false
}

// Workable reports whether issues of this type appear in the ready queue.
// Bugs are tracked but get fixed through a task that references them.
func (t IssueType) Workable() bool {
	return t == TypeTask || t == TypeTest || t == TypeChore
}

func ParseIssueType(s string) (IssueType, error) {
	t := IssueType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid issue type %q (want bug, task, test or chore)", s)
	}
	return t, nil
}

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

var Statuses = []Status{StatusOpen, StatusInProgress, StatusClosed}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("invalid status %q (want open, in_progress or closed)", s)
	}
	return v, nil
}

// Priority orders lexically: p0 is the most urgent.
type Priority string

const (
	P0 Priority = "p0"
	P1 Priority = "p1"
	P2 Priority = "p2"
	P3 Priority = "p3"

	DefaultPriority = P2
)

var Priorities = []Priority{P0, P1, P2, P3}

func (p Priority) Valid() bool {
	switch p {
	case P0, P1, P2, P3:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("invalid priority %q (want p0, p1, p2 or p3)", s)
	}
	return p, nil
}

type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	IssueType   IssueType `json:"issue_type" enum:"bug,task,test,chore"`
	Status      Status    `json:"status" enum:"open,in_progress,closed"`
	Priority    Priority  `json:"priority" enum:"p0,p1,p2,p3"`
	Spec        *string   `json:"spec,omitempty"`
	Fixes       *string   `json:"fixes,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	UpdatedAt   string    `json:"updated_at" format:"date-time"`
	ClosedAt    *string   `json:"closed_at,omitempty" format:"date-time"`
	CloseReason *string   `json:"close_reason,omitempty"`
}

// IssueDetail is an issue together with its direct blockers and comments.
type IssueDetail struct {
	Issue
	Deps     []Issue   `json:"deps"`
	Comments []Comment `json:"comments"`
}

// IssuePatch carries the optional fields of an update. A nil field is left untouched;
// a pointer to the empty string clears the column.
type IssuePatch struct {
	Title       *string
	Description *string
	Priority    *Priority
	Assignee    *string
	Spec        *string
	Fixes       *string
	IssueType   *IssueType
}

func (p IssuePatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Assignee == nil && p.Spec == nil && p.Fixes == nil && p.IssueType == nil
}

// Dep says IssueID cannot proceed until DependsOnID is closed.
type Dep struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
}

type Comment struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	Actor     string `json:"actor"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventType string

const (
	EventCreated    EventType = "created"
	EventUpdated    EventType = "updated"
	EventClaimed    EventType = "claimed"
	EventReleased   EventType = "released"
	EventClosed     EventType = "closed"
	EventReopened   EventType = "reopened"
	EventCommented  EventType = "commented"
	EventDepAdded   EventType = "dep_added"
	EventDepRemoved EventType = "dep_removed"
)

var EventTypes = []EventType{
	EventCreated, EventUpdated, EventClaimed, EventReleased, EventClosed,
	EventReopened, EventCommented, EventDepAdded, EventDepRemoved,
}

func (e EventType) Valid() bool {
	for _, v := range EventTypes {
		if e == v {
			return true
		}
	}
	return false
}

type Event struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	EventType EventType `json:"event_type"`
	Actor     *string   `json:"actor,omitempty"`
	Detail    *string   `json:"detail,omitempty"`
	CreatedAt string    `json:"created_at" format:"date-time"`
}

type DepTreeNode struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Priority  Priority  `json:"priority"`
	IssueType IssueType `json:"issue_type"`
	Depth     int       `json:"depth"`
}

type Direction string

const (
	// DirectionDown walks toward the issues this one blocks.
	DirectionDown Direction = "down"
	// DirectionUp walks toward the issues blocking this one.
	DirectionUp Direction = "up"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", DirectionDown:
		return DirectionDown, nil
	case DirectionUp:
		return DirectionUp, nil
	}
	return "", fmt.Errorf("invalid direction %q (want up or down)", s)
}

type CountGroup struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type CountResult struct {
	Total  int          `json:"total"`
	Groups []CountGroup `json:"groups,omitempty"`
}

// TypeStatus is one row of the project status summary.
type TypeStatus struct {
	IssueType  IssueType `json:"issue_type"`
	Open       int       `json:"open"`
	InProgress int       `json:"in_progress"`
	Closed     int       `json:"closed"`
}

type SyncResult struct {
	Issues   int `json:"issues"`
	Deps     int `json:"deps"`
	Comments int `json:"comments"`
}

type DoctorFixes struct {
	ReleasedClaims int `json:"released_claims"`
	RemovedDeps    int `json:"removed_deps"`
}

type DoctorReport struct {
	StaleClaims []Issue      `json:"stale_claims"`
	OrphanDeps  []Dep        `json:"orphan_deps"`
	Fixed       *DoctorFixes `json:"fixed,omitempty"`
}

// Healthy reports whether the doctor found nothing to repair.
func (r DoctorReport) Healthy() bool {
	return len(r.StaleClaims) == 0 && len(r.OrphanDeps) == 0
}
