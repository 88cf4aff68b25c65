package cmd

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"tts-cache/cachepath"

	"go.uber.org/zap"
)

const testMod = `{
	"SaveName": "Test Mod",
	"Tags": ["Cards"],
	"ObjectStates": [
		{"Name": "Custom_Token", "CustomImage": {"ImageURL": "http://example.com/a.png"}},
		{"Name": "Custom_Model", "CustomMesh": {"MeshURL": "http://example.com/b.obj"}}
	]
}`

func TestRunScan(t *testing.T) {
	cfg, ledger := newTestEnv(t)
	ctx := context.Background()
	d := dirsOf(cfg)
	log := zap.NewNop().Sugar()

	writeSave(t, filepath.Join(cfg.ModsDir, "Workshop", "123.json"), testMod)
	writeSave(t, filepath.Join(cfg.SavesDir, "broken.json"), `{"ObjectStates": [`)
	cached := filepath.Join(cfg.ModsDir, "Images", cachepath.Recode("http://example.com/a.png")+".png")
	writeSave(t, cached, "png")

	report, err := runScan(ctx, ledger, d, scanOptions{}, log)
	if err != nil {
		t.Fatalf("runScan failed: %v", err)
	}
	if report.Mods != 2 || report.Parsed != 1 || report.Skipped != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	if report.Sightings == 0 {
		t.Error("Expected the cached image to be registered")
	}

	mod, err := ledger.GetMod(ctx, "Workshop/123.json")
	if err != nil {
		t.Fatalf("GetMod failed: %v", err)
	}
	if mod.Name != "Test Mod" {
		t.Errorf("Expected name Test Mod, got %q", mod.Name)
	}
	if mod.TotalAssets != 2 || mod.MissingAssets != 1 {
		t.Errorf("Expected 1/2 missing, got %d/%d", mod.MissingAssets, mod.TotalAssets)
	}
	if !reflect.DeepEqual(mod.TagNames(), []string{"Cards"}) {
		t.Errorf("Unexpected tags %v", mod.TagNames())
	}

	missing, err := ledger.MissingAssetsFor(ctx, "Workshop/123.json")
	if err != nil {
		t.Fatalf("MissingAssetsFor failed: %v", err)
	}
	if len(missing) != 1 || missing[0].URL != "http://example.com/b.obj" {
		t.Errorf("Unexpected missing assets %+v", missing)
	}

	// Nothing changed on disk, so nothing is parsed again.
	report, err = runScan(ctx, ledger, d, scanOptions{}, log)
	if err != nil {
		t.Fatalf("Second runScan failed: %v", err)
	}
	if report.Parsed != 0 {
		t.Errorf("Expected no reparse, got %d", report.Parsed)
	}
}

func TestRunScanOnly(t *testing.T) {
	cfg, ledger := newTestEnv(t)
	ctx := context.Background()

	writeSave(t, filepath.Join(cfg.ModsDir, "Workshop", "1.json"), testMod)
	writeSave(t, filepath.Join(cfg.ModsDir, "Workshop", "2.json"), testMod)

	report, err := runScan(ctx, ledger, dirsOf(cfg), scanOptions{Only: []string{"Workshop/2.json", "Workshop/gone.json"}}, nil)
	if err != nil {
		t.Fatalf("runScan failed: %v", err)
	}
	if report.Mods != 1 || report.Parsed != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	names, err := ledger.ModFilenames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"Workshop/2.json"}) {
		t.Errorf("Unexpected mods %v", names)
	}
}

func TestRunScanVerify(t *testing.T) {
	cfg, ledger := newTestEnv(t)
	ctx := context.Background()

	writeSave(t, filepath.Join(cfg.ModsDir, "Workshop", "123.json"), testMod)
	cached := filepath.Join(cfg.ModsDir, "Images", cachepath.Recode("http://example.com/a.png")+".png")
	writeSave(t, cached, "hello world")

	report, err := runScan(ctx, ledger, dirsOf(cfg), scanOptions{Verify: true}, nil)
	if err != nil {
		t.Fatalf("runScan failed: %v", err)
	}
	if report.Hashed != 1 {
		t.Errorf("Expected 1 file hashed, got %d", report.Hashed)
	}
	asset, err := ledger.AssetByURL(ctx, "http://example.com/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if asset.ContentSHA1 != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("Unexpected digest %q", asset.ContentSHA1)
	}
	if _, err := os.Stat(cached); err != nil {
		t.Errorf("Verified file must stay in place: %v", err)
	}
}
