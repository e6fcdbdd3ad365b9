package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"examboard/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) { return s.claims, s.err }

func serve(v JWTValidator, header string, roles ...string) (*httptest.ResponseRecorder, string) {
	var seenRole string
	h := RequireRole(v, slog.New(slog.NewTextHandler(io.Discard, nil)), roles...)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenRole = requestcontext.Role(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))
	req := httptest.NewRequest(http.MethodPost, "/admin/invoices", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seenRole
}

func TestRequireRole(t *testing.T) {
	staff := uuid.NewString()

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(stubValidator{}, "", "admin")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec, _ := serve(stubValidator{err: errors.New("bad sig")}, "Bearer x", "admin")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("role not admitted", func(t *testing.T) {
		rec, _ := serve(stubValidator{claims: &JWTClaims{UserID: staff, Role: "finance"}}, "Bearer x", "admin")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admitted role reaches handler", func(t *testing.T) {
		rec, role := serve(stubValidator{claims: &JWTClaims{UserID: staff, Role: "finance"}}, "Bearer x", "admin", "finance")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "finance", role)
	})

	t.Run("non-uuid subject", func(t *testing.T) {
		rec, _ := serve(stubValidator{claims: &JWTClaims{UserID: "root", Role: "admin"}}, "Bearer x", "admin")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
