package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should apply defaults", func(t *testing.T) {
		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, 5001, cfg.Port)
		assert.Equal(t, "uploads", cfg.UploadDir)
		assert.Equal(t, BackendCSV, cfg.StoreBackend)
		assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
		assert.Equal(t, time.Minute, cfg.RateLimitWindow)
		assert.True(t, cfg.IngestOnUpload)
		assert.Equal(t, ":5001", cfg.Addr())
	})

	t.Run("should read overrides from the environment", func(t *testing.T) {
		t.Setenv("PORT", "8080")
		t.Setenv("UPLOAD_DIR", "/tmp/trips")
		t.Setenv("NUM_PARSER_WORKERS", "3")
		t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://trips.example.com")
		t.Setenv("SHUTDOWN_TIMEOUT", "2s")
		t.Setenv("INGEST_ON_UPLOAD", "false")

		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "/tmp/trips", cfg.UploadDir)
		assert.Equal(t, 3, cfg.NumParserWorkers)
		assert.Equal(t, []string{"http://localhost:3000", "https://trips.example.com"}, cfg.CORSOrigins)
		assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
		assert.False(t, cfg.IngestOnUpload)
	})

	t.Run("should accept the supabase alias for the database url", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "Postgres")
		t.Setenv("SUPABASE_DB_URL", "postgres://user:pass@db:5432/trips")

		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, BackendPostgres, cfg.StoreBackend)
		assert.Equal(t, "postgres://user:pass@db:5432/trips", cfg.DatabaseURL)
	})

	t.Run("should prefer DATABASE_URL over the alias", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("SUPABASE_DB_URL", "postgres://alias")
		t.Setenv("DATABASE_URL", "postgres://canonical")

		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, "postgres://canonical", cfg.DatabaseURL)
	})

	t.Run("should require a database url for the postgres backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("DATABASE_URL", "")
		t.Setenv("SUPABASE_DB_URL", "")

		_, err := New()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("should reject an unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mongo")

		_, err := New()
		assert.ErrorContains(t, err, "STORE_BACKEND")
	})

	t.Run("should reject an out of range port", func(t *testing.T) {
		t.Setenv("PORT", "70000")

		_, err := New()
		assert.ErrorContains(t, err, "PORT")
	})

	t.Run("should reject a non numeric worker count", func(t *testing.T) {
		t.Setenv("NUM_PARSER_WORKERS", "many")

		_, err := New()
		assert.Error(t, err)
	})
}
