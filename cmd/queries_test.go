package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"tts-cache/db"
)

func scannedEnv(t *testing.T) *db.Ledger {
	t.Helper()
	cfg, ledger := newTestEnv(t)
	writeSave(t, filepath.Join(cfg.ModsDir, "Workshop", "123.json"), testMod)
	writeSave(t, filepath.Join(cfg.SavesDir, "TS_Save_1.json"), `{"SaveName": "Done", "ObjectStates": []}`)
	if _, err := runScan(context.Background(), ledger, dirsOf(cfg), scanOptions{}, nil); err != nil {
		t.Fatalf("runScan failed: %v", err)
	}
	return ledger
}

func TestPrintMissing(t *testing.T) {
	ledger := scannedEnv(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := printMissing(ctx, &buf, ledger, "Workshop/123.json"); err != nil {
		t.Fatalf("printMissing failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Test Mod", "http://example.com/a.png", "http://example.com/b.obj", "not downloaded"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output lacks %q:\n%s", want, out)
		}
	}

	if err := ledger.SetIgnoreMissing(ctx, "Workshop/123.json", "http://example.com/a.png", true); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := printMissing(ctx, &buf, ledger, "Workshop/123.json"); err != nil {
		t.Fatalf("printMissing failed: %v", err)
	}
	if strings.Contains(buf.String(), "http://example.com/a.png") {
		t.Errorf("Ignored asset listed:\n%s", buf.String())
	}

	err := printMissing(ctx, &buf, ledger, "Workshop/404.json")
	if !errors.Is(err, db.ErrModNotFound) {
		t.Errorf("Expected ErrModNotFound, got %v", err)
	}
}

func TestPrintModList(t *testing.T) {
	ledger := scannedEnv(t)

	var buf bytes.Buffer
	if err := printModList(context.Background(), &buf, ledger, false); err != nil {
		t.Fatalf("printModList failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Test Mod") || !strings.Contains(out, "Done") || !strings.Contains(out, "Cards") {
		t.Errorf("Unexpected list:\n%s", out)
	}

	buf.Reset()
	if err := printModList(context.Background(), &buf, ledger, true); err != nil {
		t.Fatalf("printModList failed: %v", err)
	}
	out = buf.String()
	if !strings.Contains(out, "Test Mod") || strings.Contains(out, "Done") {
		t.Errorf("Expected only the incomplete mod:\n%s", out)
	}
}

func TestPrintReferences(t *testing.T) {
	ledger := scannedEnv(t)

	var buf bytes.Buffer
	if err := printReferences(context.Background(), &buf, ledger, "http://example.com/b.obj"); err != nil {
		t.Fatalf("printReferences failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Workshop/123.json") {
		t.Errorf("Referencing mod not listed:\n%s", buf.String())
	}

	buf.Reset()
	if err := printReferences(context.Background(), &buf, ledger, "http://example.com/unknown.png"); err != nil {
		t.Fatalf("printReferences failed: %v", err)
	}
	if !strings.Contains(buf.String(), "not referenced") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}
}
