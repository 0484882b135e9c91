package config

import (
	"os"
	"path/filepath"
	"testing"
)

// clearEnv unsets key for the duration of the test.
func clearEnv(t *testing.T, key string) {
	t.Helper()
	old, ok := os.LookupEnv(key)
	_ = os.Unsetenv(key)
	t.Cleanup(func() {
		if ok {
			_ = os.Setenv(key, old)
		}
	})
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("CHATLINE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.RedisPrefix != "chat" {
		t.Errorf("RedisPrefix default = %q, want chat", cfg.RedisPrefix)
	}
	if cfg.PushListenAddr == "" {
		t.Error("PushListenAddr default missing")
	}
}

func TestLoadRequiresRedisAddr(t *testing.T) {
	clearEnv(t, "CHATLINE_REDIS_ADDR")

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("Load with no redis_addr should fail validation")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	clearEnv(t, "CHATLINE_REDIS_ADDR")
	clearEnv(t, "CHATLINE_PROFILE")

	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	in := Default()
	in.DefaultProfile = "work"
	in.RedisAddr = "redis.internal:6379"
	in.MediaBucket = "chatline-media"

	if err := Save(path, &in); err != nil {
		t.Fatalf("Save = %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if out.DefaultProfile != "work" || out.RedisAddr != "redis.internal:6379" || out.MediaBucket != "chatline-media" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	in := Default()
	in.RedisAddr = "from-file:6379"
	if err := Save(path, &in); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHATLINE_REDIS_ADDR", "from-env:6379")
	out, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.RedisAddr != "from-env:6379" {
		t.Errorf("RedisAddr = %q, want env value", out.RedisAddr)
	}
}

func TestResolveProfile(t *testing.T) {
	cfg := &Config{DefaultProfile: "home"}

	if got := ResolveProfile("flagged", cfg); got != "flagged" {
		t.Errorf("flag override = %q", got)
	}
	if got := ResolveProfile("", cfg); got != "home" {
		t.Errorf("config default = %q", got)
	}
	if got := ResolveProfile("", nil); got != DefaultProfileName {
		t.Errorf("fallback = %q", got)
	}
}
