package cmd

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tts-cache/config"
	"tts-cache/db"
	"tts-cache/extractor"
	"tts-cache/sweep"
)

// newTestEnv creates an empty data directory and a ledger inside it.
func newTestEnv(t *testing.T) (config.Config, *db.Ledger) {
	t.Helper()
	data := t.TempDir()
	cfg := config.Config{
		DataDir:          data,
		ModsDir:          filepath.Join(data, "Mods"),
		SavesDir:         filepath.Join(data, "Saves"),
		DatabasePath:     filepath.Join(data, "tts-cache.db"),
		UserAgent:        "tts-cache/test",
		DownloadWorkers:  2,
		DownloadAttempts: 1,
		DownloadTimeout:  5,
	}
	for _, dir := range []string{filepath.Join(cfg.ModsDir, "Workshop"), cfg.SavesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
	}

	gdb, err := db.Open(cfg.DatabasePath, nil)
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return cfg, db.NewLedger(gdb, nil)
}

func writeSave(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	mtime := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}
}

func TestResolveModArg(t *testing.T) {
	d := sweep.Dirs{Mods: filepath.Join("/data", "Mods"), Saves: filepath.Join("/data", "Saves")}

	tests := []struct {
		arg      string
		expected string
		wantErr  bool
	}{
		{"123456789", "Workshop/123456789.json", false},
		{"Saves/TS_Save_1.json", "Saves/TS_Save_1.json", false},
		{"Saves/TS_Save_1", "Saves/TS_Save_1.json", false},
		{"Workshop/42.JSON", "Workshop/42.JSON", false},
		{filepath.Join("/data", "Saves", "Chest", "game.json"), "Saves/Chest/game.json", false},
		{filepath.Join("/data", "Mods", "Workshop", "7.json"), "Workshop/7.json", false},
		{filepath.Join("/elsewhere", "7.json"), "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			result, err := resolveModArg(d, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveModArg(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if result != tt.expected {
				t.Errorf("resolveModArg(%q) = %q, want %q", tt.arg, result, tt.expected)
			}
		})
	}
}

func TestToModMeta(t *testing.T) {
	info := extractor.ModInfo{
		SaveName:      "Catan",
		EpochTime:     1700000000,
		VersionNumber: "v13.2.1",
		GameMode:      "Catan",
		MinPlayers:    3,
		MaxPlayers:    4,
		MinPlayTime:   60,
		MaxPlayTime:   120,
		Tags:          []string{"Strategy"},
	}

	meta := toModMeta(info)

	expected := db.ModMeta{
		Name:        "Catan",
		EpochTime:   1700000000,
		Version:     "v13.2.1",
		GameMode:    "Catan",
		MinPlayers:  3,
		MaxPlayers:  4,
		MinPlayTime: 60,
		MaxPlayTime: 120,
		Tags:        []string{"Strategy"},
	}
	if !reflect.DeepEqual(meta, expected) {
		t.Errorf("toModMeta() = %+v, want %+v", meta, expected)
	}
}
