package store

import (
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/cdmtriage/internal/config"
	"github.com/JonMunkholm/cdmtriage/internal/core"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{"memory", config.StoreConfig{Driver: "memory"}, false},
		{"sqlite", config.StoreConfig{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "cdm.db")}, false},
		{"unknown", config.StoreConfig{Driver: "cassandra"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(t.Context(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer s.Close()

			ev := core.Event{ID: "E1", Object1: "A", Object2: "B", Lane: core.LaneMCRequired}
			if err := s.BulkUpsert(t.Context(), []core.Event{ev}); err != nil {
				t.Fatalf("BulkUpsert() error = %v", err)
			}
			got, ok, err := s.Get(t.Context(), "E1")
			if err != nil || !ok {
				t.Fatalf("Get() = %v, %v, %v", got, ok, err)
			}
			if got.Lane != core.LaneMCRequired {
				t.Errorf("Lane = %v, want %v", got.Lane, core.LaneMCRequired)
			}
		})
	}
}
