package poolmgr

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Checkpointer drives the periodic "flush every dirty page" sweep spec.md
// §4.2 calls out as the buffer pool's WAL dirty-eviction hook point, on a
// cron schedule shared by every graph open in the pool. Grounded on the
// teacher's Scheduler: one cron.Cron instance, start/stop guarded by a
// mutex, logging failures rather than aborting the loop.
type Checkpointer struct {
	pool *Pool

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func newCheckpointer(p *Pool) *Checkpointer {
	return &Checkpointer{pool: p}
}

// start registers the checkpoint sweep on cronExpr (standard 5-field cron,
// e.g. "*/30 * * * *" for every 30 minutes) and starts the scheduler.
func (c *Checkpointer) start(cronExpr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.cron.Stop()
	}
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(cronExpr, c.runSweep); err != nil {
		return err
	}
	c.cron.Start()
	c.running = true
	return nil
}

func (c *Checkpointer) runSweep() {
	if err := c.pool.flushAllOpen(); err != nil {
		log.Printf("poolmgr: checkpoint sweep failed: %v", err)
	}
}

// stop halts the scheduler; safe to call when not running.
func (c *Checkpointer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.running = false
}
