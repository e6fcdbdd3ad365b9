package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "examboard/internal/jwt_token"
	dErrors "examboard/pkg/domain-errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("EXAMBOARD_CONFIG", "")
	t.Setenv("JWT_SIGNING_KEY", "boardctl-test-key")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--role", "finance", "--user", "7a1c1c2e-8f6b-4a53-9d0c-1e2f3a4b5c6d")
	require.NoError(t, err)

	svc := jwttoken.NewJWTService("boardctl-test-key", "examboard", "examboard-admin")
	claims, err := svc.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, jwttoken.RoleFinance, claims.Role)
	assert.Equal(t, "7a1c1c2e-8f6b-4a53-9d0c-1e2f3a4b5c6d", claims.UserID)

	_, err = run(t, "token", "--role", "registrar")
	assert.Equal(t, 2, exitCode(err))
}

func TestIssueCommand_RequiresOneTarget(t *testing.T) {
	_, err := run(t, "issue", "--exam-year", "0b8f3c1e-2d4a-4e5f-8a9b-0c1d2e3f4a5b")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))

	_, err = run(t, "issue", "--kind", "diploma", "--exam-year", "0b8f3c1e-2d4a-4e5f-8a9b-0c1d2e3f4a5b", "--school", "x")
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestIssueAndVerifyOnMemoryBoard(t *testing.T) {
	out, err := run(t, "issue", "--exam-year", "0b8f3c1e-2d4a-4e5f-8a9b-0c1d2e3f4a5b",
		"5d6e7f80-1a2b-4c3d-8e9f-a0b1c2d3e4f5")
	require.NoError(t, err)
	assert.Contains(t, out, `"failed"`)
	assert.Contains(t, out, `"not_found"`)

	out, err = run(t, "verify", "not-a-real-token")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "not_found"`)
}

func TestParseNamespace(t *testing.T) {
	_, err := parseNamespace("index_number")
	assert.NoError(t, err)
	_, err = parseNamespace("passport")
	assert.Error(t, err)
}
