package main

import "time"

// rtcdConfig holds every flag/env/config-file-derived value rtcd needs,
// mirroring the teacher's cfg-struct-plus-bindConfig shape (cmd/lockd's
// lockd.Config) but limited to spec.md §6's recognized keys plus the
// ambient additions SPEC_FULL.md §6 calls for.
type rtcdConfig struct {
	Listen        string // wireserver.grpc_listen
	MetricsListen string // metrics.listen_addr
	LogLevel      string // log.level

	ClusterName     string        // ha.cluster_name
	ReadLockTimeout time.Duration // ha.read_lock_timeout_seconds
	IDBatchSize     uint64        // master.id_batch_size
	ReaperTick      time.Duration // master.reaper_tick_seconds

	Store   string // "mem" or "disk"
	DiskDir string // root directory when Store == "disk"

	Resources []string // resource names DataSourceSet should pre-register
}

func defaultRtcdConfig() rtcdConfig {
	return rtcdConfig{
		Listen:          ":7341",
		MetricsListen:   ":7342",
		LogLevel:        "info",
		ClusterName:     "rtc-master",
		ReadLockTimeout: 60 * time.Second,
		IDBatchSize:     1000,
		ReaperTick:      5 * time.Second,
		Store:           "mem",
		Resources:       []string{"default"},
	}
}
