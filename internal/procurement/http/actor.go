package procurementhttp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/purchasing/internal/platform/httpx"
	"github.com/odyssey-erp/purchasing/internal/procurement"
)

// Identity headers set by the authenticating gateway in front of the service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

type actorContextKey struct{}

// ContextWithActor stores the caller in context.
func ContextWithActor(ctx context.Context, actor procurement.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the caller from context.
func ActorFromContext(ctx context.Context) (procurement.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(procurement.Actor)
	return actor, ok
}

// RequireActor rejects requests without a valid identity with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromHeaders(r.Header)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

func actorFromHeaders(h http.Header) (procurement.Actor, error) {
	raw := strings.TrimSpace(h.Get(HeaderUserID))
	if raw == "" {
		return procurement.Actor{}, fmt.Errorf("%w: missing %s header", httpx.ErrUnauthorized, HeaderUserID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return procurement.Actor{}, fmt.Errorf("%w: invalid %s header", httpx.ErrUnauthorized, HeaderUserID)
	}
	var roles []string
	for _, role := range strings.Split(h.Get(HeaderUserRoles), ",") {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			roles = append(roles, role)
		}
	}
	return procurement.Actor{ID: id, Roles: roles}, nil
}
