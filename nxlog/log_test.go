package nxlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesLogFileUnderStemLogsDir(t *testing.T) {
	dir := fmt.Sprintf("/tmp/nxlog-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	defer os.RemoveAll(dir)

	stem := dir + "/mydb"
	log, err := Open(stem)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	log.Info().Msg("hello")

	wantPath := filepath.Join(dir+"/mydb_logs", "mydb.log")
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("expected log file at %s: %v", wantPath, err)
	}
}

func TestWithComponentTagsEntries(t *testing.T) {
	dir := fmt.Sprintf("/tmp/nxlog-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	defer os.RemoveAll(dir)

	log, err := Open(dir + "/mydb")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	scoped := log.WithComponent("compactor")
	scoped.Info().Msg("running")
}

func TestCloseOnNilReceiverIsSafe(t *testing.T) {
	var log *DatabaseLogger
	if err := log.Close(); err != nil {
		t.Fatalf("expected a nil *DatabaseLogger Close to be a no-op, got %v", err)
	}
}

func TestInitSwitchesGlobalLoggerLevel(t *testing.T) {
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: os.Stderr})
	defer Init(Config{Level: InfoLevel, JSONOutput: false, Output: os.Stderr})

	if Logger.GetLevel().String() != "error" {
		t.Fatalf("expected global logger level to switch to error, got %v", Logger.GetLevel())
	}
}
