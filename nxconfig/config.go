// Package nxconfig holds the tunables enumerated in spec.md §6,
// optionally loadable from a YAML file the way warren and bunbase both
// load their own config structs.
package nxconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexuslite/nexuslite/cache"
)

// Options is the full set of database-creation and runtime tunables.
type Options struct {
	PageSize              uint32        `yaml:"page_size"`
	WALGroupCommitMS      time.Duration `yaml:"wal_group_commit_ms"`
	CheckpointInterval    time.Duration `yaml:"checkpoint_interval"`
	SegmentTargetBytes    int64         `yaml:"segment_target_bytes"`
	CompactionLevelFanout int           `yaml:"compaction_level_fanout"`
	CopyVerify            bool          `yaml:"copy_verify"`
	Cache                 cache.Config  `yaml:"cache"`
}

// Default matches spec.md §6's implied defaults: 16KiB pages, 5ms group
// commit, a one-minute checkpoint interval, 8-way compaction fanout.
func Default() Options {
	return Options{
		PageSize:              16 * 1024,
		WALGroupCommitMS:      5 * time.Millisecond,
		CheckpointInterval:    time.Minute,
		SegmentTargetBytes:    4 * 1024 * 1024,
		CompactionLevelFanout: 8,
		CopyVerify:            false,
		Cache:                 cache.DefaultConfig(),
	}
}

// Load reads YAML config from path, starting from Default() and
// overriding only fields the file sets.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("nxconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("nxconfig: parse %s: %w", path, err)
	}
	return opts, nil
}

// Validate enforces the page size and fanout bounds spec.md §6 states.
func (o Options) Validate() error {
	if o.PageSize < 8*1024 || o.PageSize > 16*1024 || o.PageSize&(o.PageSize-1) != 0 {
		return fmt.Errorf("nxconfig: page_size must be a power of two in [8KiB, 16KiB], got %d", o.PageSize)
	}
	if o.CompactionLevelFanout < 8 || o.CompactionLevelFanout > 10 {
		return fmt.Errorf("nxconfig: compaction_level_fanout must be in [8, 10], got %d", o.CompactionLevelFanout)
	}
	return nil
}
