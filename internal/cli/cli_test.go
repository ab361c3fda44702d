package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tripledger/internal/config"
	"tripledger/internal/core"
	"tripledger/internal/storage"
	"tripledger/internal/storage/storagetest"
)

const tripsTOML = `
[[trips]]
id = "lisbon"
creator = "A"

  [[trips.members]]
  user_id = "A"
  name = "Ann"

  [[trips.members]]
  user_id = "B"

  [[trips.members]]
  user_id = "C"
`

func writeTrips(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trips.toml")
	if err := os.WriteFile(path, []byte(tripsTOML), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewResolver(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.Config
		wantErr     error
		wantCleaner bool
	}{
		{name: "trips file", cfg: config.Config{TripsFile: writeTrips(t)}},
		{name: "membership service", cfg: config.Config{MembershipURL: "http://trips.internal"}, wantCleaner: true},
		{name: "nothing configured", wantErr: errNoMembership},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, cleaner, err := NewResolver(&tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if r == nil {
				t.Fatal("nil resolver")
			}
			if (cleaner != nil) != tt.wantCleaner {
				t.Errorf("cleaner = %v, want present %v", cleaner, tt.wantCleaner)
			}
		})
	}
}

func TestNewResolverReadsTrips(t *testing.T) {
	r, _, err := NewResolver(&config.Config{TripsFile: writeTrips(t)})
	if err != nil {
		t.Fatal(err)
	}
	members, err := r.GetMembers(context.Background(), "lisbon")
	if err != nil || len(members) != 3 {
		t.Fatalf("members = %+v, %v", members, err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("TRIPLEDGER_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRIPLEDGER_TEST_VALUE", "")
	os.Unsetenv("TRIPLEDGER_TEST_VALUE")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("TRIPLEDGER_TEST_VALUE"); got != "from-file" {
		t.Errorf("TRIPLEDGER_TEST_VALUE = %q", got)
	}
}

func TestLoadAndValidateConfigRejectsBadBackend(t *testing.T) {
	t.Setenv("DATA_BACKEND", "sheets")
	if _, err := LoadAndValidateConfig(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBalancesCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := storage.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := store.CreateExpense(context.Background(), storagetest.Expense("e1", "lisbon", 0, 9000, "USD", "A", "B", "C")); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	store.Close()

	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", dbPath)
	t.Setenv("TRIPS_FILE", writeTrips(t))
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--env-file", "", "balances", "lisbon"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := Execute(context.Background()); err != nil {
		t.Fatalf("balances: %v", err)
	}

	var got core.TripBalances
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not balances JSON: %v\n%s", err, out.String())
	}
	if got.TripID != "lisbon" {
		t.Errorf("tripId = %q", got.TripID)
	}
	net := map[string]int64{}
	for _, b := range got.Balances {
		net[b.UserID] = b.Net.Cents
	}
	if net["A"] != 6000 || net["B"] != -3000 || net["C"] != -3000 {
		t.Errorf("net = %v, want A:6000 B:-3000 C:-3000", net)
	}
}

func TestRelayRequiresBroker(t *testing.T) {
	t.Setenv("AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	rootCmd.SetArgs([]string{"--env-file", "", "relay"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := Execute(context.Background()); err == nil {
		t.Fatal("relay without AMQP_URL should fail")
	}
}
