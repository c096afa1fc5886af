package pensasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pensa/internal/domain"
)

// DefaultBaseURL is where pn daemon listens unless told otherwise.
const DefaultBaseURL = "http://localhost:7533"

// Client is a minimal pensa HTTP API client.
type Client struct {
	BaseURL string
	// Actor is sent as X-Pensa-Actor on every request when set.
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actor string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		Actor:   actor,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func IsNotFound(err error) bool       { return hasCode(err, "not_found") }
func IsAlreadyClaimed(err error) bool { return hasCode(err, "already_claimed") }
func IsCycleDetected(err error) bool  { return hasCode(err, "cycle_detected") }
func IsBusy(err error) bool           { return hasCode(err, "storage_busy") }

// Holder returns the current assignee reported by an already_claimed error.
func Holder(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	h, _ := apiErr.Details["holder"].(string)
	return h
}

type CreateIssueInput struct {
	Title       string   `json:"title"`
	IssueType   string   `json:"issue_type"`
	Priority    string   `json:"priority,omitempty"`
	Description string   `json:"description,omitempty"`
	Spec        string   `json:"spec,omitempty"`
	Fixes       string   `json:"fixes,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Deps        []string `json:"deps,omitempty"`
}

// UpdateIssueInput is a partial update; nil fields are left untouched and a
// pointer to "" clears the field.
type UpdateIssueInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	Spec        *string `json:"spec,omitempty"`
	Fixes       *string `json:"fixes,omitempty"`
	Claim       bool    `json:"claim,omitempty"`
	Unclaim     bool    `json:"unclaim,omitempty"`
}

// ListOptions filters list and ready queries. Zero values are omitted.
type ListOptions struct {
	Status   string
	Priority string
	Assignee string
	Type     string
	Spec     string
	Sort     string
	Limit    int
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	for k, v := range map[string]string{
		"status":   o.Status,
		"priority": o.Priority,
		"assignee": o.Assignee,
		"type":     o.Type,
		"spec":     o.Spec,
		"sort":     o.Sort,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

type DepResult struct {
	Status      string `json:"status"`
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
}

type SyncResult struct {
	Status string `json:"status"`
	domain.SyncResult
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) Status(ctx context.Context) ([]domain.TypeStatus, error) {
	var resp []domain.TypeStatus
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, "issues", in, &resp)
	return resp, err
}

// GetIssue returns the issue with its direct blockers and comments.
func (c *Client) GetIssue(ctx context.Context, id string) (domain.IssueDetail, error) {
	var resp domain.IssueDetail
	err := c.do(ctx, http.MethodGet, issuePath(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateIssue(ctx context.Context, id string, in UpdateIssueInput) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPatch, issuePath(id), in, &resp)
	return resp, err
}

func (c *Client) DeleteIssue(ctx context.Context, id string, force bool) error {
	endpoint := issuePath(id)
	if force {
		endpoint += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) ClaimIssue(ctx context.Context, id string) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "claim"), nil, &resp)
	return resp, err
}

func (c *Client) ReleaseIssue(ctx context.Context, id string) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "release"), nil, &resp)
	return resp, err
}

func (c *Client) CloseIssue(ctx context.Context, id, reason string, force bool) (domain.Issue, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	if force {
		body["force"] = true
	}
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "close"), body, &resp)
	return resp, err
}

func (c *Client) ReopenIssue(ctx context.Context, id, reason string) (domain.Issue, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "reopen"), body, &resp)
	return resp, err
}

// History returns the issue's audit events, newest first.
func (c *Client) History(ctx context.Context, id string) ([]domain.Event, error) {
	var resp []domain.Event
	err := c.do(ctx, http.MethodGet, issuePath(id, "history"), nil, &resp)
	return resp, err
}

func (c *Client) ListIssues(ctx context.Context, opts ListOptions) ([]domain.Issue, error) {
	var resp []domain.Issue
	err := c.do(ctx, http.MethodGet, withQuery("issues", opts.query()), nil, &resp)
	return resp, err
}

func (c *Client) ReadyIssues(ctx context.Context, opts ListOptions) ([]domain.Issue, error) {
	var resp []domain.Issue
	err := c.do(ctx, http.MethodGet, withQuery("issues/ready", opts.query()), nil, &resp)
	return resp, err
}

func (c *Client) BlockedIssues(ctx context.Context) ([]domain.Issue, error) {
	var resp []domain.Issue
	err := c.do(ctx, http.MethodGet, "issues/blocked", nil, &resp)
	return resp, err
}

func (c *Client) SearchIssues(ctx context.Context, text string) ([]domain.Issue, error) {
	var resp []domain.Issue
	err := c.do(ctx, http.MethodGet, withQuery("issues/search", url.Values{"q": {text}}), nil, &resp)
	return resp, err
}

func (c *Client) CountIssues(ctx context.Context, groupBy string) (domain.CountResult, error) {
	q := url.Values{}
	if groupBy != "" {
		q.Set("group_by", groupBy)
	}
	var resp domain.CountResult
	err := c.do(ctx, http.MethodGet, withQuery("issues/count", q), nil, &resp)
	return resp, err
}

// AddDep records that issueID cannot proceed until dependsOnID is closed.
func (c *Client) AddDep(ctx context.Context, issueID, dependsOnID string) (DepResult, error) {
	body := map[string]string{"issue_id": issueID, "depends_on_id": dependsOnID}
	var resp DepResult
	err := c.do(ctx, http.MethodPost, "deps", body, &resp)
	return resp, err
}

func (c *Client) RemoveDep(ctx context.Context, issueID, dependsOnID string) (DepResult, error) {
	q := url.Values{"issue_id": {issueID}, "depends_on_id": {dependsOnID}}
	var resp DepResult
	err := c.do(ctx, http.MethodDelete, withQuery("deps", q), nil, &resp)
	return resp, err
}

func (c *Client) ListDeps(ctx context.Context, id string) ([]domain.Issue, error) {
	var resp []domain.Issue
	err := c.do(ctx, http.MethodGet, issuePath(id, "deps"), nil, &resp)
	return resp, err
}

func (c *Client) DepTree(ctx context.Context, id, direction string) ([]domain.DepTreeNode, error) {
	q := url.Values{}
	if direction != "" {
		q.Set("direction", direction)
	}
	var resp []domain.DepTreeNode
	err := c.do(ctx, http.MethodGet, withQuery(issuePath(id, "deps", "tree"), q), nil, &resp)
	return resp, err
}

func (c *Client) DetectCycles(ctx context.Context) ([][]string, error) {
	var resp struct {
		Cycles [][]string `json:"cycles"`
	}
	err := c.do(ctx, http.MethodGet, "deps/cycles", nil, &resp)
	return resp.Cycles, err
}

func (c *Client) AddComment(ctx context.Context, id, text string) (domain.Comment, error) {
	var resp domain.Comment
	err := c.do(ctx, http.MethodPost, issuePath(id, "comments"), map[string]string{"text": text}, &resp)
	return resp, err
}

func (c *Client) ListComments(ctx context.Context, id string) ([]domain.Comment, error) {
	var resp []domain.Comment
	err := c.do(ctx, http.MethodGet, issuePath(id, "comments"), nil, &resp)
	return resp, err
}

func (c *Client) Export(ctx context.Context) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, "export", nil, &resp)
	return resp, err
}

func (c *Client) Import(ctx context.Context) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, "import", nil, &resp)
	return resp, err
}

func (c *Client) Doctor(ctx context.Context, fix bool) (domain.DoctorReport, error) {
	endpoint := "doctor"
	if fix {
		endpoint += "?fix=true"
	}
	var resp domain.DoctorReport
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Actor != "" {
		req.Header.Set("X-Pensa-Actor", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func issuePath(id string, parts ...string) string {
	p := "issues/" + url.PathEscape(id)
	if len(parts) > 0 {
		p += "/" + strings.Join(parts, "/")
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
