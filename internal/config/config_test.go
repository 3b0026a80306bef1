package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/bot")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("UPLOAD_URL", "https://host.example/upload")
	t.Setenv("UPLOAD_PRESET", "bot-media")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FreeDailyCredits != 2 {
		t.Errorf("FreeDailyCredits = %d, want 2", cfg.FreeDailyCredits)
	}
	if cfg.ChatModel != "gpt-4o" {
		t.Errorf("ChatModel = %q", cfg.ChatModel)
	}
	if !cfg.IdleChatFallback {
		t.Error("IdleChatFallback must default to true")
	}
	if cfg.HostingProvider != "upload" {
		t.Errorf("HostingProvider = %q", cfg.HostingProvider)
	}
}

func TestLoadReportsMissingVariables(t *testing.T) {
	setRequired(t)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("missing OPENAI_API_KEY must fail")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("error does not name the missing variable: %v", err)
	}
}

func TestLoadRequiresS3SettingsForS3Provider(t *testing.T) {
	setRequired(t)
	t.Setenv("HOSTING_PROVIDER", "s3")

	_, err := Load()
	if err == nil {
		t.Fatal("s3 provider without credentials must fail")
	}
	if !strings.Contains(err.Error(), "S3_BUCKET") {
		t.Fatalf("error does not name S3_BUCKET: %v", err)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("HOSTING_PROVIDER", "ftp")

	if _, err := Load(); err == nil {
		t.Fatal("unknown hosting provider must fail")
	}
}
