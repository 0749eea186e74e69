package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// ARCHIVE_BUCKET이 없으면 AWS_REGION 없이도 Load가 성공해야 한다.
	t.Setenv("ARCHIVE_BUCKET", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := Load()

	if cfg.ServiceName != "authtrace" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.MaxBodySize != 64*1024*1024 {
		t.Errorf("MaxBodySize = %d", cfg.MaxBodySize)
	}
	if cfg.JudgeModel != "claude-opus-4-20250514" {
		t.Errorf("JudgeModel = %q", cfg.JudgeModel)
	}
	if cfg.JudgeTimeout != 90*time.Second {
		t.Errorf("JudgeTimeout = %v", cfg.JudgeTimeout)
	}
	if cfg.DefaultK != 5 || cfg.MinValueLen != 8 {
		t.Errorf("DefaultK = %d, MinValueLen = %d", cfg.DefaultK, cfg.MinValueLen)
	}
	if cfg.InstanceID == "" {
		t.Error("InstanceID must never be empty")
	}
	if cfg.ArchiveEnabled() {
		t.Error("archive must be disabled without ARCHIVE_BUCKET")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "authtrace-stg")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("JUDGE_TIMEOUT", "30s")
	t.Setenv("JUDGE_RETRIES", "3")
	t.Setenv("DEFAULT_K", "10")
	t.Setenv("ARCHIVE_BUCKET", "")

	cfg := Load()

	if cfg.ServiceName != "authtrace-stg" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" || !cfg.LogPretty {
		t.Errorf("LogLevel = %q, LogPretty = %v", cfg.LogLevel, cfg.LogPretty)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.JudgeTimeout != 30*time.Second || cfg.JudgeRetries != 3 {
		t.Errorf("JudgeTimeout = %v, JudgeRetries = %d", cfg.JudgeTimeout, cfg.JudgeRetries)
	}
	if cfg.DefaultK != 10 {
		t.Errorf("DefaultK = %d", cfg.DefaultK)
	}
}

func TestLoadArchiveBlock(t *testing.T) {
	t.Setenv("ARCHIVE_BUCKET", "trace-artifacts")
	t.Setenv("AWS_REGION", "ap-northeast-2")

	cfg := Load()

	if !cfg.ArchiveEnabled() {
		t.Fatal("archive must be enabled with ARCHIVE_BUCKET")
	}
	if cfg.AWSRegion != "ap-northeast-2" {
		t.Errorf("AWSRegion = %q", cfg.AWSRegion)
	}
	if cfg.ArchivePrefix != "artifacts" {
		t.Errorf("ArchivePrefix = %q", cfg.ArchivePrefix)
	}
	if cfg.SpoolMaxAge != 72*time.Hour {
		t.Errorf("SpoolMaxAge = %v", cfg.SpoolMaxAge)
	}
	if cfg.SpoolMaxSizeBytes != 512*1024*1024 {
		t.Errorf("SpoolMaxSizeBytes = %d", cfg.SpoolMaxSizeBytes)
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"", false, false},
		{"1", false, true},
		{"true", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("TEST_BOOL_ENV", tt.val)
			if got := envBool("TEST_BOOL_ENV", tt.def); got != tt.want {
				t.Errorf("envBool(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
			}
		})
	}
}
