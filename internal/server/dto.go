package server

import (
	"pensa/internal/domain"
)

// Request payloads. Every mutating payload accepts an optional actor, which
// wins over the X-Pensa-Actor header.

type CreateIssueRequest struct {
	Title       string   `json:"title"`
	IssueType   string   `json:"issue_type" enum:"bug,task,test,chore"`
	Priority    string   `json:"priority,omitempty" enum:"p0,p1,p2,p3"`
	Description *string  `json:"description,omitempty"`
	Spec        *string  `json:"spec,omitempty"`
	Fixes       *string  `json:"fixes,omitempty"`
	Assignee    *string  `json:"assignee,omitempty"`
	Deps        []string `json:"deps,omitempty"`
	Actor       string   `json:"actor,omitempty"`
}

// UpdateIssueRequest is a partial update. An explicit null or empty string
// clears an optional field. Claim and unclaim replace the field update.
type UpdateIssueRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty" nullable:"true"`
	Priority    *string `json:"priority,omitempty" enum:"p0,p1,p2,p3"`
	IssueType   *string `json:"issue_type,omitempty" enum:"bug,task,test,chore"`
	Assignee    *string `json:"assignee,omitempty" nullable:"true"`
	Spec        *string `json:"spec,omitempty" nullable:"true"`
	Fixes       *string `json:"fixes,omitempty" nullable:"true"`
	Claim       bool    `json:"claim,omitempty"`
	Unclaim     bool    `json:"unclaim,omitempty"`
	Actor       string  `json:"actor,omitempty"`
}

type ActorRequest struct {
	Actor string `json:"actor,omitempty"`
}

type CloseIssueRequest struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type ReopenIssueRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type AddDepRequest struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Actor       string `json:"actor,omitempty"`
}

type AddCommentRequest struct {
	Text  string `json:"text"`
	Actor string `json:"actor,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type DepResponse struct {
	Status      string `json:"status" enum:"added,removed"`
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
}

type CyclesResponse struct {
	Cycles [][]string `json:"cycles"`
}

type SyncResponse struct {
	Status string `json:"status" enum:"exported,imported"`
	domain.SyncResult
}

func (r UpdateIssueRequest) patch() domain.IssuePatch {
	p := domain.IssuePatch{
		Title:       r.Title,
		Description: r.Description,
		Assignee:    r.Assignee,
		Spec:        r.Spec,
		Fixes:       r.Fixes,
	}
	if r.Priority != nil {
		v := domain.Priority(*r.Priority)
		p.Priority = &v
	}
	if r.IssueType != nil {
		v := domain.IssueType(*r.IssueType)
		p.IssueType = &v
	}
	return p
}

func (r UpdateIssueRequest) hasFields() bool {
	return !r.patch().Empty()
}

func actorOf(body *ActorRequest) string {
	if body == nil {
		return ""
	}
	return body.Actor
}
