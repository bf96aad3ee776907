package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("default addr: %s", cfg.HTTPAddr)
	}
	if cfg.DispatchWindow != 30*time.Second {
		t.Fatalf("default window: %s", cfg.DispatchWindow)
	}
	if cfg.CandidateLimit != 8 || cfg.CommissionPct != 10 {
		t.Fatalf("default dispatch knobs: limit=%d pct=%d", cfg.CandidateLimit, cfg.CommissionPct)
	}
	if cfg.PaymentPollAttempts != 10 || cfg.PaymentPollInterval != 3*time.Second {
		t.Fatalf("default payment knobs: attempts=%d interval=%s", cfg.PaymentPollAttempts, cfg.PaymentPollInterval)
	}
	if cfg.KafkaTopic != "dispatch-events" {
		t.Fatalf("default topic: %s", cfg.KafkaTopic)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DISPATCH_WINDOW", "45s")
	t.Setenv("DISPATCH_CANDIDATE_LIMIT", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("MIGRATE", "TRUE")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("addr override: %s", cfg.HTTPAddr)
	}
	if cfg.DispatchWindow != 45*time.Second {
		t.Fatalf("window override: %s", cfg.DispatchWindow)
	}
	if cfg.CandidateLimit != 3 {
		t.Fatalf("limit override: %d", cfg.CandidateLimit)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
	if !cfg.RunMigrations {
		t.Fatal("MIGRATE=TRUE not honored")
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("DISPATCH_WINDOW", "soon")
	t.Setenv("DISPATCH_CANDIDATE_LIMIT", "0")
	t.Setenv("DISPATCH_COMMISSION_PCT", "150")

	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation errors")
	}
}
