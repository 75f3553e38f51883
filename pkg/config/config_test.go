package config

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom")
	if got := getEnv("TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true string", "true", false, true},
		{"one", "1", false, true},
		{"false string", "false", true, false},
		{"garbage", "banana", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := getEnvBool("TEST_BOOL_NOT_SET", true); !got {
		t.Error("expected default true when unset")
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	t.Setenv("TEST_INT", "not-a-number")
	if got := getEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default 7", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if got := getEnvDuration("TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := getEnvDuration("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want default 1s", got)
	}
}

func TestParseStaticTokens(t *testing.T) {
	tokens := parseStaticTokens("tok-1=u1, tok-2=u2,,bad-entry,=u3,tok-4=")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
	if tokens["tok-1"].UserID != "u1" || tokens["tok-2"].UserID != "u2" {
		t.Errorf("unexpected token table: %v", tokens)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AUTHZ_POSTGRES_URL", "postgres://localhost/authz")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports: %s / %s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Cache.Size != 4096 || cfg.Cache.TTL != 30*time.Second {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Cache.RedisURL != "" {
		t.Errorf("redis should be off by default, got %q", cfg.Cache.RedisURL)
	}
	if !cfg.Seeder.RunOnStartup || cfg.Seeder.CronSpec != "@hourly" {
		t.Errorf("unexpected seeder defaults: %+v", cfg.Seeder)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("AUTHZ_POSTGRES_URL", "postgres://localhost/authz")
	t.Setenv("AUTHZ_PORT", "9999")
	t.Setenv("AUTHZ_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AUTHZ_TOKENS_FILE", "/etc/authz/tokens.yaml")
	t.Setenv("AUTHZ_STATIC_TOKENS", "tok=u1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("port override not applied: %s", cfg.Server.Port)
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("redis url not applied: %s", cfg.Cache.RedisURL)
	}
	if cfg.Auth.TokensFile != "/etc/authz/tokens.yaml" {
		t.Errorf("tokens file not applied: %s", cfg.Auth.TokensFile)
	}
	if cfg.Auth.StaticTokens["tok"].UserID != "u1" {
		t.Errorf("static tokens not parsed: %v", cfg.Auth.StaticTokens)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("AUTHZ_POSTGRES_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error when postgres URL is missing")
	}

	t.Setenv("AUTHZ_POSTGRES_URL", "postgres://localhost/authz")
	t.Setenv("AUTHZ_PORT", "9090")
	t.Setenv("AUTHZ_HEALTH_PORT", "9090")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error when api and health ports collide")
	}

	t.Setenv("AUTHZ_PORT", "8080")
	t.Setenv("AUTHZ_CACHE_SIZE", "0")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for non-positive cache size")
	}
}
