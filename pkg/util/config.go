// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

type JoinOptions struct {
	// small side ceiling before the build switches to full thread count.
	PMMemLimit int64 `toml:"pmMemLimit"`
	// small side ceiling of one hash join, summed over all small sides.
	UMMemLimit     int64         `toml:"umMemLimit"`
	AllowDiskJoin  bool          `toml:"allowDiskJoin"`
	PartitionSize  int64         `toml:"partitionSize"`
	MaxDepth       int           `toml:"maxDepth"`
	MaxThreads     int           `toml:"maxThreads"`
	PMThreads      int           `toml:"pmThreads"`
	LargeSideLimit int64         `toml:"largeSideLimit"`
	DiskUsageLimit int64         `toml:"diskUsageLimit"`
	TempDir        string        `toml:"tempDir"`
	Compression    bool          `toml:"compression"`
	PollInterval   time.Duration `toml:"pollInterval"`
	FifoSize       int           `toml:"fifoSize"`
}

type OrderByOptions struct {
	ParallelThreads int `toml:"parallelThreads"`
	// rows reserved per thread-local queue in the parallel path.
	ReserveSize int `toml:"reserveSize"`
	// minimal limit that turns on the parallel path.
	ParallelMinRows int `toml:"parallelMinRows"`
}

type MemoryOptions struct {
	TotalLimit      int64         `toml:"totalLimit"`
	SessionLimit    int64         `toml:"sessionLimit"`
	PatienceTimeout time.Duration `toml:"patienceTimeout"`
	PatienceRetry   time.Duration `toml:"patienceRetry"`
}

type RowGroupOptions struct {
	MaxRows        int  `toml:"maxRows"`
	UseStringTable bool `toml:"useStringTable"`
}

type PoolOptions struct {
	Size int `toml:"size"`
}

type DebugOptions struct {
	LogLevel    string `toml:"logLevel"`
	PrintResult bool   `toml:"printResult"`
	PrintStats  bool   `toml:"printStats"`
}

type Config struct {
	Join     JoinOptions     `toml:"join"`
	OrderBy  OrderByOptions  `toml:"orderby"`
	Memory   MemoryOptions   `toml:"memory"`
	RowGroup RowGroupOptions `toml:"rowgroup"`
	Pool     PoolOptions     `toml:"pool"`
	Debug    DebugOptions    `toml:"debug"`
}

const (
	KB = int64(1024)
	MB = 1024 * KB
	GB = 1024 * MB
)

func DefaultConfig() *Config {
	return &Config{
		Join: JoinOptions{
			PMMemLimit:     64 * MB,
			UMMemLimit:     1 * GB,
			AllowDiskJoin:  true,
			PartitionSize:  64 * MB,
			MaxDepth:       8,
			MaxThreads:     8,
			PMThreads:      1,
			LargeSideLimit: 1 * GB,
			DiskUsageLimit: 100 * GB,
			TempDir:        os.TempDir(),
			Compression:    true,
			PollInterval:   time.Second,
			FifoSize:       16,
		},
		OrderBy: OrderByOptions{
			ParallelThreads: 4,
			ReserveSize:     100000,
			ParallelMinRows: 1,
		},
		Memory: MemoryOptions{
			TotalLimit:      8 * GB,
			SessionLimit:    4 * GB,
			PatienceTimeout: 5 * time.Second,
			PatienceRetry:   10 * time.Millisecond,
		},
		RowGroup: RowGroupOptions{
			MaxRows:        DefaultRowGroupSize,
			UseStringTable: true,
		},
		Pool: PoolOptions{
			Size: 64,
		},
		Debug: DebugOptions{
			LogLevel: "warn",
		},
	}
}

// LoadConfig decodes the toml file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		Error("load config file failed",
			zap.String("fpath", path),
			zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
