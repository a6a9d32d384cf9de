package nxconfig

import (
	"fmt"
	"os"
	"testing"
)

func TestDefaultPassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed Validate: %v", err)
	}
}

func TestValidateRejectsNonPowerOfTwoPageSize(t *testing.T) {
	opts := Default()
	opts.PageSize = 10 * 1024
	if err := opts.Validate(); err == nil {
		t.Fatal("expected a non-power-of-two page size to be rejected")
	}
}

func TestValidateRejectsOutOfRangeFanout(t *testing.T) {
	opts := Default()
	opts.CompactionLevelFanout = 3
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an out-of-range fanout to be rejected")
	}
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := fmt.Sprintf("/tmp/nxconfig-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	defer os.RemoveAll(dir)

	path := dir + "/config.yaml"
	if err := os.WriteFile(path, []byte("page_size: 8192\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if opts.PageSize != 8192 {
		t.Fatalf("expected page_size override to apply, got %d", opts.PageSize)
	}
	if opts.CompactionLevelFanout != Default().CompactionLevelFanout {
		t.Fatalf("expected unspecified fields to keep their default, got fanout=%d", opts.CompactionLevelFanout)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/tmp/nxconfig-test-does-not-exist.yaml"); err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
}
