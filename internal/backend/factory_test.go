package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"movimenti/internal/config"
	"movimenti/internal/store/memory"
	"movimenti/internal/store/sqlite"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "memory", config: Config{Type: MemoryBackend}},
		{name: "unknown type", config: Config{Type: "mongo"}, wantErr: "invalid backend type"},
		{name: "sqlite without path", config: Config{Type: SQLiteBackend}, wantErr: "SQLite database path"},
		{name: "postgres without url", config: Config{Type: PostgresBackend}, wantErr: "Postgres URL"},
		{name: "sheets without id", config: Config{Type: SheetsBackend, GoogleServiceAccountJSON: "{}"}, wantErr: "Spreadsheet ID"},
		{name: "sheets without credentials", config: Config{Type: SheetsBackend, GoogleSpreadsheetID: "x"}, wantErr: "GoogleServiceAccountFile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg, err := FromAppConfig(&config.Config{DataBackend: "postgres", PostgresURL: "postgres://localhost/db"})
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if cfg.Type != PostgresBackend || cfg.PostgresURL != "postgres://localhost/db" {
		t.Errorf("FromAppConfig() = %+v", cfg)
	}

	_, err = FromAppConfig(&config.Config{DataBackend: "csv"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "[memory sqlite postgres sheets]") {
		t.Errorf("error should list valid backends: %v", err)
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := res.Store.(*memory.Store); !ok {
		t.Errorf("memory backend returned %T", res.Store)
	}
	if err := res.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	res, err = f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "m.db")})
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	if _, ok := res.Store.(*sqlite.SQLiteRepository); !ok {
		t.Errorf("sqlite backend returned %T", res.Store)
	}
	if err := res.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	if _, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend}); err == nil {
		t.Error("expected validation error")
	}
}
