package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveLogFilePathDefaultDir(t *testing.T) {
	tmpDir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	got, err := resolveLogFilePath(Options{})
	if err != nil {
		t.Fatalf("resolve default log path failed: %v", err)
	}

	realTmpDir, err := filepath.EvalSymlinks(tmpDir)
	if err != nil {
		t.Fatalf("resolve tmp dir symlink failed: %v", err)
	}
	realGot, err := filepath.EvalSymlinks(filepath.Dir(got))
	if err != nil {
		t.Fatalf("resolve got dir symlink failed: %v", err)
	}
	expectedDir := filepath.Join(realTmpDir, defaultLogDirName)
	if realGot != expectedDir {
		t.Fatalf("unexpected log dir: got=%s expected=%s", realGot, expectedDir)
	}
	if filepath.Base(got) != defaultLogFilename {
		t.Fatalf("unexpected log filename: %s", filepath.Base(got))
	}
	if _, err := os.Stat(filepath.Dir(got)); err != nil {
		t.Fatalf("expected log dir to be created: %v", err)
	}
}

func TestNewReleaseWritesToConfiguredFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Options{
		Dir:      tmpDir,
		Filename: "release.log",
	}
	log := New("release", cfg)
	log.Info("release-log-test")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "release.log"))
	if err != nil {
		t.Fatalf("read release log failed: %v", err)
	}
	if !strings.Contains(string(content), "release-log-test") {
		t.Fatalf("expected log content to contain message, got=%s", string(content))
	}
}

func TestNewDebugDoesNotWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Options{
		Dir:      tmpDir,
		Filename: "debug.log",
	}
	log := New("debug", cfg)
	log.Info("debug-log-test")
	_ = log.Sync()

	if _, err := os.Stat(filepath.Join(tmpDir, "debug.log")); !os.IsNotExist(err) {
		t.Fatalf("debug mode should not create log file")
	}
}

func TestComponentBindsName(t *testing.T) {
	tmpDir := t.TempDir()
	prev := L
	t.Cleanup(func() { L = prev })

	Init("release", Options{Dir: tmpDir, Filename: "component.log"})
	Component("job_event_router").Infow("component_log_test", "order_id", 42)
	Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "component.log"))
	if err != nil {
		t.Fatalf("read component log failed: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, `"component":"job_event_router"`) {
		t.Fatalf("expected component field, got=%s", text)
	}
	if !strings.Contains(text, `"order_id":42`) {
		t.Fatalf("expected order_id field, got=%s", text)
	}
}

func TestLevelOptionFiltersBelowThreshold(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("release", Options{Dir: tmpDir, Filename: "level.log", Level: "warn"})
	t.Cleanup(func() { _ = SetLevel("info") })

	log.Info("info-should-be-dropped")
	log.Warn("warn-should-be-kept")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "level.log"))
	if err != nil {
		t.Fatalf("read level log failed: %v", err)
	}
	text := string(content)
	if strings.Contains(text, "info-should-be-dropped") {
		t.Fatalf("info entry should be filtered, got=%s", text)
	}
	if !strings.Contains(text, "warn-should-be-kept") {
		t.Fatalf("warn entry should be written, got=%s", text)
	}
}

func TestSetLevelAdjustsAtRuntime(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })
	if err := SetLevel("error"); err != nil {
		t.Fatalf("set level failed: %v", err)
	}
	if Level().String() != "error" {
		t.Fatalf("unexpected level: %s", Level())
	}
	if err := SetLevel("verbose"); err == nil {
		t.Fatalf("unknown level should be rejected")
	}
	if Level().String() != "error" {
		t.Fatalf("rejected level must not change current level: %s", Level())
	}
}

func TestResolveLevelDefaults(t *testing.T) {
	if got := resolveLevel("", true); got.String() != "debug" {
		t.Fatalf("debug mode should default to debug, got %s", got)
	}
	if got := resolveLevel("", false); got.String() != "info" {
		t.Fatalf("release mode should default to info, got %s", got)
	}
	if got := resolveLevel("bogus", false); got.String() != "info" {
		t.Fatalf("invalid level should fall back, got %s", got)
	}
}
