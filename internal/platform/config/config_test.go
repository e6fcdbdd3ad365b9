package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EXAMBOARD_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Issuance.MaxAllocationAttempts)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Empty(t, cfg.Database.URL, "in-memory stores by default")
	assert.True(t, cfg.Verification.RateLimitEnabled)
	assert.Equal(t, "http://localhost:8080/verify", cfg.Verification.PublicBaseURL)
}

func TestLoad_VerificationEnv(t *testing.T) {
	t.Setenv("EXAMBOARD_CONFIG", "")
	t.Setenv("VERIFY_BASE_URL", "https://verify.board.example/v")
	t.Setenv("VERIFY_RATE_LIMIT_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://verify.board.example/v", cfg.Verification.PublicBaseURL)
	assert.False(t, cfg.Verification.RateLimitEnabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
issuance:
  fee_per_student_minor: 25000
  max_allocation_attempts: 10
verification:
  cache_ttl: 30s
kafka:
  brokers: ["kafka-1:9092"]
`), 0o600))

	t.Setenv("EXAMBOARD_CONFIG", path)
	t.Setenv("MAX_ALLOCATION_ATTEMPTS", "20")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, int64(25000), cfg.Issuance.FeePerStudentMinor)
	assert.Equal(t, 20, cfg.Issuance.MaxAllocationAttempts, "env wins over file")
	assert.Equal(t, 30*time.Second, cfg.Verification.CacheTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("EXAMBOARD_CONFIG", "")
	t.Setenv("MAX_ALLOCATION_ATTEMPTS", "0")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("MAX_ALLOCATION_ATTEMPTS", "many")
	_, err = Load()
	require.Error(t, err)
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	require.Error(t, cfg.Validate())
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("EXAMBOARD_CONFIG", "")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.50")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.50"}, cfg.Server.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "lb.internal")
	_, err = Load()
	require.Error(t, err)
}
