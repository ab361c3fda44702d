package backend

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"tripledger/internal/config"
	"tripledger/internal/log"
	"tripledger/internal/storage/storagetest"
)

func quietFactory() Factory {
	return NewFactory(log.New(log.Config{Output: io.Discard}))
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "memory", config: Config{Type: MemoryBackend}},
		{name: "sqlite", config: Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "db", "ledger.db")}},
		{name: "sqlite without path", config: Config{Type: SQLiteBackend}, wantErr: "SQLite database path is required"},
		{name: "postgres without dsn", config: Config{Type: PostgresBackend}, wantErr: "Postgres DSN is required"},
		{name: "unknown", config: Config{Type: "sheets"}, wantErr: "invalid backend type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := quietFactory().CreateBackend(ctx, tt.config)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("CreateBackend() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateBackend() error = %v", err)
			}
			defer res.Cleanup()
			if err := res.Ready(ctx); err != nil {
				t.Errorf("Ready() = %v", err)
			}
			if seq, err := res.Store.CreateExpense(ctx, storagetest.Expense("e1", "t1", 0, 900, "USD", "A", "B")); err != nil || seq != 1 {
				t.Errorf("CreateExpense() = %d, %v", seq, err)
			}
		})
	}
}

func TestSQLiteBackendPersists(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")}

	res, err := quietFactory().CreateBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	if _, err := res.Store.CreateExpense(ctx, storagetest.Expense("e1", "t1", 0, 900, "USD", "A")); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	// reopening runs migrations again and must keep the data
	res, err = quietFactory().CreateBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer res.Cleanup()
	if seq, err := res.Store.TripSequence(ctx, "t1"); err != nil || seq != 1 {
		t.Fatalf("TripSequence() = %d, %v; want 1", seq, err)
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(&config.Config{DataBackend: "postgres", PostgresDSN: "postgres://x"})
	if err != nil || cfg.Type != PostgresBackend || cfg.PostgresDSN != "postgres://x" {
		t.Fatalf("FromAppConfig() = %+v, %v", cfg, err)
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if !SQLiteBackend.Persistent() || MemoryBackend.Persistent() {
		t.Error("Persistent() misreports")
	}
}
