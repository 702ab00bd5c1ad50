package rtc

import (
	"time"

	"github.com/haxdb/rtc-master/internal/clock"
	"github.com/haxdb/rtc-master/internal/idalloc"
	"github.com/haxdb/rtc-master/internal/lockservice"
	"github.com/haxdb/rtc-master/internal/loggingutil"
	"github.com/haxdb/rtc-master/internal/logstore"
	"github.com/haxdb/rtc-master/internal/txm"
	"pkt.systems/pslog"
)

// Config is the RtcContext spec.md §9 calls for: every external
// collaborator threaded explicitly through construction, no global mutable
// state. Recognized configuration keys per spec.md §6: ha.cluster_name,
// ha.read_lock_timeout_seconds, master.id_batch_size,
// master.reaper_tick_seconds.
type Config struct {
	ClusterName string

	TxManager   txm.Manager
	LockService *lockservice.Service
	DataSources logstore.DataSourceSet
	IDAlloc     *idalloc.BatchAllocator
	Clock       clock.Clock
	Logger      pslog.Logger

	ReadLockTimeout time.Duration // ha.read_lock_timeout_seconds
	ReaperTick      time.Duration // master.reaper_tick_seconds, default 5s
	IDBatchSize     uint64        // master.id_batch_size, default 1000
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Logger == nil {
		c.Logger = loggingutil.NoopLogger()
	}
	if c.ReaperTick <= 0 {
		c.ReaperTick = 5 * time.Second
	}
	if c.ReadLockTimeout <= 0 {
		c.ReadLockTimeout = 60 * time.Second
	}
	if c.IDBatchSize == 0 {
		c.IDBatchSize = 1000
	}
}
