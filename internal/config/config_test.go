package config

import (
	"testing"
	"time"
)

func TestLoad_AppEnvValidation(t *testing.T) {
	t.Setenv("APP_ENV", "invalid")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid APP_ENV")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ScrapeEventWorkers != 5 {
		t.Fatalf("unexpected ScrapeEventWorkers: %d", cfg.ScrapeEventWorkers)
	}
	if cfg.ScrapeSubRequestWorkers != 3 {
		t.Fatalf("unexpected ScrapeSubRequestWorkers: %d", cfg.ScrapeSubRequestWorkers)
	}
	if cfg.ScrapeEventTimeout != 10*time.Minute {
		t.Fatalf("unexpected ScrapeEventTimeout: %s", cfg.ScrapeEventTimeout)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Fatalf("unexpected FetchTimeout: %s", cfg.FetchTimeout)
	}
	if cfg.StagingBatchSize != 500 {
		t.Fatalf("unexpected StagingBatchSize: %d", cfg.StagingBatchSize)
	}
	if cfg.PromoteBatchSize != 1000 {
		t.Fatalf("unexpected PromoteBatchSize: %d", cfg.PromoteBatchSize)
	}
	if cfg.ResolverSimilarityThreshold != 0.75 {
		t.Fatalf("unexpected ResolverSimilarityThreshold: %v", cfg.ResolverSimilarityThreshold)
	}
	if cfg.CheckpointDir != "." {
		t.Fatalf("unexpected CheckpointDir: %q", cfg.CheckpointDir)
	}
	if cfg.CronDailySync == "" || cfg.CronWeeklyReconcile == "" {
		t.Fatalf("expected cron defaults to be populated")
	}
	if cfg.SyncRunDeadline != 20*time.Minute {
		t.Fatalf("unexpected SyncRunDeadline: %s", cfg.SyncRunDeadline)
	}
	if cfg.MaintenanceRunDeadline != 30*time.Minute {
		t.Fatalf("unexpected MaintenanceRunDeadline: %s", cfg.MaintenanceRunDeadline)
	}
}

func TestLoad_StorageDriverValidation(t *testing.T) {
	t.Run("defaults to postgres", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("STORAGE_DRIVER", "")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.StorageDriver != StorageDriverPostgres {
			t.Fatalf("unexpected StorageDriver: %q", cfg.StorageDriver)
		}
	})

	t.Run("memory accepted", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("STORAGE_DRIVER", "memory")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.StorageDriver != StorageDriverMemory {
			t.Fatalf("unexpected StorageDriver: %q", cfg.StorageDriver)
		}
	})

	t.Run("unknown rejected", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("STORAGE_DRIVER", "sqlite")

		if _, err := Load(); err == nil {
			t.Fatalf("expected error for unknown STORAGE_DRIVER")
		}
	})
}

func TestLoad_PromoteBatchSizeClamped(t *testing.T) {
	t.Run("below minimum", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("PROMOTE_BATCH_SIZE", "10")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.PromoteBatchSize != MinPromoteBatchSize {
			t.Fatalf("expected clamp to %d, got %d", MinPromoteBatchSize, cfg.PromoteBatchSize)
		}
	})

	t.Run("above maximum", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("PROMOTE_BATCH_SIZE", "50000")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.PromoteBatchSize != MaxPromoteBatchSize {
			t.Fatalf("expected clamp to %d, got %d", MaxPromoteBatchSize, cfg.PromoteBatchSize)
		}
	})
}

func TestLoad_FetchTimeoutCapped(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("FETCH_TIMEOUT", "2m")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for FETCH_TIMEOUT above 30s")
	}
}

func TestLoad_StagingBatchSizeBounds(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("STAGING_BATCH_SIZE", "501")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for STAGING_BATCH_SIZE above 500")
	}
}

func TestLoad_UptraceRequiresDSNWhenEnabled(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("UPTRACE_ENABLED", "true")
	t.Setenv("UPTRACE_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when UPTRACE_ENABLED=true without UPTRACE_DSN")
	}
}

func TestLoad_UptraceDSNFromOTLPHeaders(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("UPTRACE_ENABLED", "true")
	t.Setenv("UPTRACE_DSN", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", `uptrace-dsn="https://token@api.uptrace.dev/proj"`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.UptraceDSN != "https://token@api.uptrace.dev/proj" {
		t.Fatalf("unexpected UptraceDSN: %q", cfg.UptraceDSN)
	}
}

func TestLoad_RankHubRequiresTokenWhenEnabled(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("RANKHUB_ENABLED", "true")
	t.Setenv("RANKHUB_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when RANKHUB_ENABLED=true without RANKHUB_TOKEN")
	}
}

func TestLoad_OpsHookRequiresURLWhenEnabled(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("OPSHOOK_ENABLED", "true")
	t.Setenv("OPSHOOK_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when OPSHOOK_ENABLED=true without OPSHOOK_URL")
	}
}

func TestLoad_ThresholdBounds(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("RESOLVER_SIMILARITY_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for threshold above 1")
	}
}

func TestLoad_PprofDefaultsAddrWhenEnabled(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("PPROF_ENABLED", "true")
	t.Setenv("PPROF_ADDR", "  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PprofAddr != ":6060" {
		t.Fatalf("expected default pprof addr :6060, got %q", cfg.PprofAddr)
	}
}

func TestLoad_PyroscopeRequiresServerAddressWhenEnabled(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("PYROSCOPE_ENABLED", "true")
	t.Setenv("PYROSCOPE_SERVER_ADDRESS", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when PYROSCOPE_ENABLED=true without PYROSCOPE_SERVER_ADDRESS")
	}
}

func TestLoad_PyroscopeAppNameDefaultsToServiceName(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("APP_SERVICE_NAME", "touchline-pipeline-test")
	t.Setenv("PYROSCOPE_ENABLED", "true")
	t.Setenv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040")
	t.Setenv("PYROSCOPE_APP_NAME", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PyroscopeAppName != "touchline-pipeline-test" {
		t.Fatalf("unexpected pyroscope app name: %q", cfg.PyroscopeAppName)
	}
}

func TestLoad_CacheConfigParsing(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("CACHE_ENABLED", "")
		t.Setenv("CACHE_TTL", "")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if !cfg.CacheEnabled {
			t.Fatalf("expected cache enabled by default")
		}
		if cfg.CacheTTL != 5*time.Minute {
			t.Fatalf("unexpected default cache ttl: %s", cfg.CacheTTL)
		}
	})

	t.Run("invalid ttl", func(t *testing.T) {
		t.Setenv("APP_ENV", EnvDevelopment)
		t.Setenv("CACHE_TTL", "bad")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for invalid CACHE_TTL")
		}
	})
}
