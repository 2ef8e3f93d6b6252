package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dbprobe/internal/db"
)

const sample = `
log_level: debug
check:
  driver: sqlserver
  dsn: "sqlserver://localhost?database=TestDB"
environments:
  development:
    driver: sqlserver
    dsn: "sqlserver://localhost?database=DevDB"
  production:
    driver: postgres
    dsn_env: TEST_PROD_DSN
pool:
  max_open_conns: 4
  max_idle_conns: 2
  conn_max_lifetime: 30m
serve:
  interval: 10s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbprobe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile err=%v", err)
	}
	return path
}

func TestLoad_FileAndSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_PROD_DSN", "postgres://app:pw@prod:5432/ProdDB")
	path := writeConfig(t, sample)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if cfg.Pool.ConnMaxLifetime != 30*time.Minute || cfg.Serve.Interval != 10*time.Second {
		t.Fatalf("durations not decoded: %+v %+v", cfg.Pool, cfg.Serve)
	}
	// Defaults survive a partial serve block.
	if cfg.Serve.AdminAddr != ":8081" {
		t.Fatalf("AdminAddr=%q", cfg.Serve.AdminAddr)
	}

	ds := cfg.Descriptors()
	prod := ds[db.Production]
	if prod.Driver != "postgres" || prod.DSN != "postgres://app:pw@prod:5432/ProdDB" {
		t.Fatalf("production descriptor=%+v", prod)
	}
	if got := cfg.EnvironmentNames(); strings.Join(got, ",") != "development,production" {
		t.Fatalf("EnvironmentNames()=%v", got)
	}
	if opts := cfg.PoolOptions(); opts.MaxOpenConns != 4 || opts.MaxIdleConns != 2 {
		t.Fatalf("PoolOptions()=%+v", opts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TEST_PROD_DSN", "postgres://prod/ProdDB")
	t.Setenv("DBPROBE_DEVELOPMENT_DSN", "sqlserver://override?database=Other")
	t.Setenv("DBPROBE_LOG_LEVEL", "warn")
	t.Setenv("DBPROBE_CHECK_DSN", "sqlserver://elsewhere")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if got := cfg.Environments["development"].DSN; got != "sqlserver://override?database=Other" {
		t.Fatalf("development dsn=%q", got)
	}
	if cfg.Check.DSN != "sqlserver://elsewhere" {
		t.Fatalf("check dsn=%q", cfg.Check.DSN)
	}
}

func TestLoad_MissingDSNFails(t *testing.T) {
	t.Setenv("TEST_PROD_DSN", "")
	_, err := Load(writeConfig(t, sample))
	if err == nil {
		t.Fatalf("expected validation error when TEST_PROD_DSN is unset")
	}
	if !strings.Contains(err.Error(), `"production"`) {
		t.Fatalf("error should name the environment: %v", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") err=%v", err)
	}
	if len(cfg.Environments) != 0 {
		t.Fatalf("expected no environments, got %v", cfg.Environments)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey("eu-west.staging", "DSN"); got != "DBPROBE_EU_WEST_STAGING_DSN" {
		t.Fatalf("EnvKey=%q", got)
	}
}

func TestGetenv(t *testing.T) {
	t.Setenv("DBPROBE_TEST_GETENV", "")
	if got := Getenv("DBPROBE_TEST_GETENV", "fallback"); got != "fallback" {
		t.Fatalf("Getenv=%q", got)
	}
	t.Setenv("DBPROBE_TEST_GETENV", "set")
	if got := Getenv("DBPROBE_TEST_GETENV", "fallback"); got != "set" {
		t.Fatalf("Getenv=%q", got)
	}
}

func TestValidate_DriverNames(t *testing.T) {
	cfg := &Config{Environments: map[string]Target{
		"development": {Driver: "SQLServer", DSN: "sqlserver://localhost?database=DevDB"},
		"production":  {DSN: "sqlserver://localhost?database=ProdDB"},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate err=%v", err)
	}

	cfg.Environments["staging"] = Target{Driver: "Oracle", DSN: "oracle://x"}
	err := cfg.Validate()
	if !errors.Is(err, db.ErrUnknownDriver) || !strings.Contains(err.Error(), `"staging"`) {
		t.Fatalf("expected unknown driver for staging, got err=%v", err)
	}
}
