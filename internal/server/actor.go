package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// ActorHeader carries the acting identity when a request body does not name one.
const ActorHeader = "X-Pensa-Actor"

type actorKey struct{}

func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// headerActor returns the identity resolved by the actor middleware.
func headerActor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// actorFor resolves the acting identity: the body's actor field, then the
// X-Pensa-Actor header, then the configured default. Identity is advisory
// and never authenticated.
func (s *service) actorFor(ctx context.Context, bodyActor string) string {
	if a := strings.TrimSpace(bodyActor); a != "" {
		return a
	}
	if a := headerActor(ctx); a != "" {
		return a
	}
	return s.defaultActor
}

func newActorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			actor := strings.TrimSpace(req.Header.Get(ActorHeader))
			if actor == "" {
				next.ServeHTTP(w, req)
				return
			}
			next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	if he, ok := err.(huma.HeadersError); ok {
		for k, vals := range he.GetHeaders() {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
