package testutil

import (
	"net/http"

	id "examboard/pkg/domain"
	"examboard/pkg/requestcontext"
)

// WithActor adds a staff user ID and role to the request context, simulating
// what the auth middleware does for authenticated admin requests.
// If the userID is not a valid UUID, it will not be added to the context.
func WithActor(req *http.Request, userID, role string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseUserID(userID); err == nil {
		ctx = requestcontext.WithUserID(ctx, parsed)
	}
	if role != "" {
		ctx = requestcontext.WithRole(ctx, role)
	}
	return req.WithContext(ctx)
}
