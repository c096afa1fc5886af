package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pensa/internal/config"
	"pensa/internal/db"
	"pensa/internal/domain"
	"pensa/internal/engine"
	"pensa/internal/repo"
	"pensa/internal/snapshot"
)

// Config for the HTTP API handler.
type Config struct {
	Engine       engine.Engine
	BasePath     string
	DefaultActor string
	Logger       *slog.Logger
	// OnFatal is called once, from the failing request, when the store
	// reports a storage fault. The daemon uses it to shut down.
	OnFatal func(error)
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_claimed"`
	Message string         `json:"message" example:"issue pn-1a2b3c4d is already claimed by alice"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"holder\":\"alice\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope {"error": {"code", "message", "details"}}.
type apiError struct {
	status  int
	headers http.Header
	Body    apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int          { return e.status }
func (e *apiError) Error() string           { return e.Body.Message }
func (e *apiError) GetHeaders() http.Header { return e.headers }

type service struct {
	engine       engine.Engine
	defaultActor string
	logger       *slog.Logger
	onFatal      func(error)
	fatalOnce    sync.Once
}

type bodyOutput[T any] struct {
	Body T
}

func respond[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

// New returns an HTTP handler exposing the pensa API.
func New(cfg Config) (http.Handler, error) {
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	actor := strings.TrimSpace(cfg.DefaultActor)
	if actor == "" {
		actor = config.DefaultActor
	}
	s := &service{
		engine:       cfg.Engine,
		defaultActor: actor,
		logger:       logger,
		onFatal:      cfg.OnFatal,
	}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(normalizeStatus(status), "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(normalizeStatus(status), "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(accessLog(logger))
	router.Use(middleware.Recoverer)
	router.Use(captureBody)
	router.Use(newActorMiddleware())
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path, nil))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusMethodNotAllowed, "", r.Method+" not allowed on "+r.URL.Path, nil))
	})

	hcfg := huma.DefaultConfig("Pensa API", "0.1.0")
	hcfg.Info.Description = "Work tracking for coding agents: issues, dependencies, claims and an audit log."
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	var group huma.API = api
	if basePath != "" {
		group = huma.NewGroup(api, basePath)
	}

	registerHealth(group)
	registerStatus(group, s)
	registerIssues(group, s)
	registerLifecycle(group, s)
	registerQueries(group, s)
	registerDeps(group, s)
	registerComments(group, s)
	registerMaintenance(group, s)

	return router, nil
}

// normalizeStatus folds Huma's request validation failures into 400s.
func normalizeStatus(status int) int {
	if status == http.StatusUnprocessableEntity {
		return http.StatusBadRequest
	}
	return status
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	return map[string]any{"errors": errs}
}

func newAPIError(status int, code, message string, details map[string]any) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func (s *service) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		claimed    engine.AlreadyClaimedError
		transition engine.InvalidTransitionError
		needsForce engine.DeleteRequiresForceError
		invalid    engine.ValidationError
		missing    engine.NotFoundError
	)
	switch {
	case errors.As(err, &claimed):
		return newAPIError(http.StatusConflict, "already_claimed", err.Error(), map[string]any{"id": claimed.ID, "holder": claimed.Holder})
	case errors.Is(err, engine.ErrCycleDetected):
		return newAPIError(http.StatusConflict, "cycle_detected", err.Error(), nil)
	case errors.As(err, &transition):
		return newAPIError(http.StatusConflict, "invalid_status_transition", err.Error(), map[string]any{
			"id": transition.ID, "from": transition.From, "to": transition.To,
		})
	case errors.As(err, &needsForce):
		return newAPIError(http.StatusConflict, "delete_requires_force", err.Error(), map[string]any{
			"id": needsForce.ID, "dependents": needsForce.Dependents, "comments": needsForce.Comments,
		})
	case errors.As(err, &invalid):
		var details map[string]any
		if invalid.Field != "" {
			details = map[string]any{"field": invalid.Field}
		}
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), details)
	case errors.As(err, &missing):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": missing.Kind, "id": missing.ID})
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, snapshot.ErrNoSnapshot):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case db.IsBusy(err):
		apiErr := newAPIError(http.StatusServiceUnavailable, "storage_busy", "storage is busy; retry shortly", nil)
		apiErr.headers = http.Header{"Retry-After": []string{"1"}}
		return apiErr
	case db.IsStorageFault(err):
		s.fatal(err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	default:
		s.logger.Error("request failed", "err", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func (s *service) fatal(err error) {
	s.logger.Error("storage fault", "err", err)
	if s.onFatal == nil {
		return
	}
	s.fatalOnce.Do(func() { s.onFatal(err) })
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "storage_busy"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// captureBody keeps a copy of PATCH bodies so handlers can tell an explicit
// null from an absent field.
func captureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "", "read body: "+err.Error(), nil))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(data))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyBytesKey{}, data)))
	})
}

func bodyBytes(ctx context.Context) []byte {
	buf, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return buf
}

// nullFields lists the top-level body fields sent as an explicit null.
func nullFields(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return out
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			out[k] = true
		}
	}
	return out
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"service"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[HealthResponse], error) {
		return respond(HealthResponse{Status: "ok"}), nil
	})
}

func registerStatus(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Open, in-progress and closed counts per issue type",
		Tags:        []string{"queries"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.TypeStatus], error) {
		rows, err := s.engine.ProjectStatus(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(rows), nil
	})
}

type issuePath struct {
	ID string `path:"id" doc:"Issue id" example:"pn-1a2b3c4d"`
}

func registerIssues(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create issue",
		Tags:          []string{"issues"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest
	}) (*bodyOutput[domain.Issue], error) {
		b := input.Body
		it, err := s.engine.CreateIssue(ctx, engine.CreateOptions{
			Title:       b.Title,
			Description: deref(b.Description),
			IssueType:   domain.IssueType(b.IssueType),
			Priority:    domain.Priority(b.Priority),
			Spec:        deref(b.Spec),
			Fixes:       deref(b.Fixes),
			Assignee:    deref(b.Assignee),
			Deps:        b.Deps,
			Actor:       s.actorFor(ctx, b.Actor),
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get issue with its blockers and comments",
		Tags:        []string{"issues"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[domain.IssueDetail], error) {
		detail, err := s.engine.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(detail), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{id}",
		Summary:     "Update issue fields, or claim/unclaim it",
		Tags:        []string{"issues"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateIssueRequest
	}) (*bodyOutput[domain.Issue], error) {
		b := input.Body
		nulls := nullFields(ctx)
		for name, field := range map[string]**string{
			"description": &b.Description,
			"assignee":    &b.Assignee,
			"spec":        &b.Spec,
			"fixes":       &b.Fixes,
		} {
			if nulls[name] && *field == nil {
				empty := ""
				*field = &empty
			}
		}
		actor := s.actorFor(ctx, b.Actor)
		var (
			it  domain.Issue
			err error
		)
		switch {
		case b.Claim && b.Unclaim:
			err = engine.ValidationError{Field: "claim", Message: "claim and unclaim are mutually exclusive"}
		case (b.Claim || b.Unclaim) && b.hasFields():
			err = engine.ValidationError{Field: "claim", Message: "claim and unclaim cannot be combined with field updates"}
		case b.Claim:
			it, err = s.engine.ClaimIssue(ctx, input.ID, actor)
		case b.Unclaim:
			it, err = s.engine.ReleaseIssue(ctx, input.ID, actor)
		default:
			it, err = s.engine.UpdateIssue(ctx, input.ID, b.patch(), actor)
		}
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-issue",
		Method:        http.MethodDelete,
		Path:          "/issues/{id}",
		Summary:       "Delete issue",
		Description:   "Removes the issue with its comments, edges and events. Issues with dependents or comments need force.",
		Tags:          []string{"issues"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Force bool   `query:"force"`
	}) (*struct{}, error) {
		if err := s.engine.DeleteIssue(ctx, input.ID, input.Force); err != nil {
			return nil, s.handleError(err)
		}
		return nil, nil
	})
}

func registerLifecycle(api huma.API, s *service) {
	type actorInput struct {
		ID   string        `path:"id"`
		Body *ActorRequest `required:"false"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "claim-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/claim",
		Summary:     "Claim an open issue",
		Tags:        []string{"lifecycle"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *actorInput) (*bodyOutput[domain.Issue], error) {
		it, err := s.engine.ClaimIssue(ctx, input.ID, s.actorFor(ctx, actorOf(input.Body)))
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/release",
		Summary:     "Release a claimed issue back to open",
		Tags:        []string{"lifecycle"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *actorInput) (*bodyOutput[domain.Issue], error) {
		it, err := s.engine.ReleaseIssue(ctx, input.ID, s.actorFor(ctx, actorOf(input.Body)))
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/close",
		Summary:     "Close issue",
		Description: "Also closes the issue named in fixes, with reason \"fixed by <id>\".",
		Tags:        []string{"lifecycle"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body *CloseIssueRequest `required:"false"`
	}) (*bodyOutput[domain.Issue], error) {
		var b CloseIssueRequest
		if input.Body != nil {
			b = *input.Body
		}
		it, err := s.engine.CloseIssue(ctx, input.ID, b.Reason, b.Force, s.actorFor(ctx, b.Actor))
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/reopen",
		Summary:     "Reopen a closed issue",
		Tags:        []string{"lifecycle"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body *ReopenIssueRequest `required:"false"`
	}) (*bodyOutput[domain.Issue], error) {
		var b ReopenIssueRequest
		if input.Body != nil {
			b = *input.Body
		}
		it, err := s.engine.ReopenIssue(ctx, input.ID, b.Reason, s.actorFor(ctx, b.Actor))
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(it), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-history",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/history",
		Summary:     "Audit events for an issue, newest first",
		Tags:        []string{"lifecycle"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]domain.Event], error) {
		events, err := s.engine.History(ctx, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(events), nil
	})
}

type filterQuery struct {
	Status   string `query:"status" doc:"open, in_progress or closed"`
	Priority string `query:"priority" doc:"p0 to p3"`
	Assignee string `query:"assignee"`
	Type     string `query:"type" doc:"bug, task, test or chore"`
	Spec     string `query:"spec"`
	Sort     string `query:"sort" doc:"priority, created, updated, status or title"`
	Limit    int    `query:"limit" minimum:"0" doc:"0 means no limit"`
}

func (q filterQuery) filter() repo.IssueFilter {
	return repo.IssueFilter{
		Status:    q.Status,
		Priority:  q.Priority,
		Assignee:  q.Assignee,
		IssueType: q.Type,
		Spec:      q.Spec,
		Sort:      q.Sort,
		Limit:     q.Limit,
	}
}

func registerQueries(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
		Tags:        []string{"queries"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *filterQuery) (*bodyOutput[[]domain.Issue], error) {
		items, err := s.engine.ListIssues(ctx, input.filter())
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ready-issues",
		Method:      http.MethodGet,
		Path:        "/issues/ready",
		Summary:     "Open, unblocked tasks, tests and chores",
		Tags:        []string{"queries"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *filterQuery) (*bodyOutput[[]domain.Issue], error) {
		items, err := s.engine.ReadyIssues(ctx, input.filter())
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blocked-issues",
		Method:      http.MethodGet,
		Path:        "/issues/blocked",
		Summary:     "Issues with at least one open blocker",
		Tags:        []string{"queries"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Issue], error) {
		items, err := s.engine.BlockedIssues(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-issues",
		Method:      http.MethodGet,
		Path:        "/issues/search",
		Summary:     "Case-insensitive substring search over title and description",
		Tags:        []string{"queries"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Q string `query:"q" required:"true"`
	}) (*bodyOutput[[]domain.Issue], error) {
		items, err := s.engine.SearchIssues(ctx, input.Q)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-issues",
		Method:      http.MethodGet,
		Path:        "/issues/count",
		Summary:     "Count issues, optionally grouped",
		Tags:        []string{"queries"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GroupBy string `query:"group_by" doc:"status, priority, issue_type or assignee"`
	}) (*bodyOutput[domain.CountResult], error) {
		res, err := s.engine.CountIssues(ctx, input.GroupBy)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(res), nil
	})
}

func registerDeps(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dep",
		Method:        http.MethodPost,
		Path:          "/deps",
		Summary:       "Make issue_id depend on depends_on_id",
		Tags:          []string{"deps"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body AddDepRequest
	}) (*bodyOutput[DepResponse], error) {
		b := input.Body
		dep, err := s.engine.AddDep(ctx, b.IssueID, b.DependsOnID, s.actorFor(ctx, b.Actor))
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(DepResponse{Status: "added", IssueID: dep.IssueID, DependsOnID: dep.DependsOnID}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dep",
		Method:      http.MethodDelete,
		Path:        "/deps",
		Summary:     "Remove a dependency edge",
		Tags:        []string{"deps"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueID     string `query:"issue_id" required:"true"`
		DependsOnID string `query:"depends_on_id" required:"true"`
		Actor       string `query:"actor"`
	}) (*bodyOutput[DepResponse], error) {
		if err := s.engine.RemoveDep(ctx, input.IssueID, input.DependsOnID, s.actorFor(ctx, input.Actor)); err != nil {
			return nil, s.handleError(err)
		}
		return respond(DepResponse{Status: "removed", IssueID: input.IssueID, DependsOnID: input.DependsOnID}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deps",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/deps",
		Summary:     "Direct blockers of an issue",
		Tags:        []string{"deps"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]domain.Issue], error) {
		items, err := s.engine.ListDeps(ctx, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dep-tree",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/deps/tree",
		Summary:     "Transitive dependency tree, breadth first",
		Tags:        []string{"deps"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Direction string `query:"direction" doc:"down (issues this one blocks, default) or up (its blockers)"`
	}) (*bodyOutput[[]domain.DepTreeNode], error) {
		dir, err := domain.ParseDirection(input.Direction)
		if err != nil {
			return nil, s.handleError(engine.ValidationError{Field: "direction", Message: err.Error()})
		}
		nodes, err := s.engine.DepTree(ctx, input.ID, dir)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(nodes), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-cycles",
		Method:      http.MethodGet,
		Path:        "/deps/cycles",
		Summary:     "Scan the dependency graph for cycles",
		Tags:        []string{"deps"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[CyclesResponse], error) {
		cycles, err := s.engine.DetectCycles(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		if cycles == nil {
			cycles = [][]string{}
		}
		return respond(CyclesResponse{Cycles: cycles}), nil
	})
}

func registerComments(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/issues/{id}/comments",
		Summary:       "Comment on an issue",
		Tags:          []string{"comments"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body AddCommentRequest
	}) (*bodyOutput[domain.Comment], error) {
		c, err := s.engine.AddComment(ctx, input.ID, s.actorFor(ctx, input.Body.Actor), input.Body.Text)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/comments",
		Summary:     "Comments on an issue, oldest first",
		Tags:        []string{"comments"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*bodyOutput[[]domain.Comment], error) {
		items, err := s.engine.ListComments(ctx, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(items), nil
	})
}

func registerMaintenance(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "export",
		Method:      http.MethodPost,
		Path:        "/export",
		Summary:     "Write issues, deps and comments to the JSONL snapshot",
		Tags:        []string{"sync"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[SyncResponse], error) {
		res, err := s.engine.Export(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(SyncResponse{Status: "exported", SyncResult: res}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import",
		Method:      http.MethodPost,
		Path:        "/import",
		Summary:     "Replace the store with the JSONL snapshot",
		Tags:        []string{"sync"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[SyncResponse], error) {
		res, err := s.engine.Import(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(SyncResponse{Status: "imported", SyncResult: res}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "doctor",
		Method:      http.MethodPost,
		Path:        "/doctor",
		Summary:     "Report claims and dangling edges; fix releases and removes them",
		Tags:        []string{"sync"},
	}, func(ctx context.Context, input *struct {
		Fix bool `query:"fix"`
	}) (*bodyOutput[domain.DoctorReport], error) {
		report, err := s.engine.Doctor(ctx, input.Fix)
		if err != nil {
			return nil, s.handleError(err)
		}
		return respond(report), nil
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
