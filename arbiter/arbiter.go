// Package arbiter serializes all state of one peer onto a single scheduler
// goroutine. Callers on any goroutine hand work over with Dispatch; timers
// are grouped so that a pending wait can be released as a unit.
package arbiter

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Meander-Cloud/go-arbiter/arbiter"
	"github.com/Meander-Cloud/go-schedule/scheduler"

	"github.com/Meander-Cloud/go-pairsync/config"
)

type Arbiter struct {
	c *config.Config
	a *arbiter.Arbiter[Group]

	// guards dispatch against a stopped queue
	mutex    sync.RWMutex
	shutdown bool
}

func NewArbiter(c *config.Config) *Arbiter {
	return &Arbiter{
		c: c,
		// event queue is unbounded, dispatch never drops
		a: arbiter.New(
			&arbiter.Options[Group]{
				LogPrefix: fmt.Sprintf("%s-Arbiter", c.LogPrefix),
				LogDebug:  c.LogDebug,
				LogEvent:  c.LogDebug,
			},
		),
	}
}

func (a *Arbiter) Shutdown() {
	a.mutex.Lock()
	if a.shutdown {
		a.mutex.Unlock()
		return
	}
	a.shutdown = true
	a.mutex.Unlock()

	a.a.Shutdown() // wait
}

// Dispatch queues f in arrival order from any goroutine. It fails only once
// the arbiter is shut down.
func (a *Arbiter) Dispatch(name string, f func()) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if a.shutdown {
		err := fmt.Errorf("%s: %s: arbiter shut down", a.c.LogPrefix, name)
		log.Printf("%s", err.Error())
		return err
	}

	a.a.Dispatch(
		func() {
			// invoked on arbiter goroutine
			defer func() {
				rec := recover()
				if rec != nil {
					log.Printf("%s: %s: functor recovered from panic: %+v", a.c.LogPrefix, name, rec)
				}
			}()
			f()
		},
	)

	return nil
}

// caller must be on scheduler goroutine, f is invoked on scheduler goroutine
func (a *Arbiter) Schedule(group Group, wait time.Duration, f func()) {
	a.a.Scheduler().ProcessSync(
		&scheduler.ScheduleAsyncEvent[Group]{
			AsyncVariant: scheduler.TimerAsync(
				true,
				[]Group{group},
				wait,
				f,
				nil,
			),
		},
	)

	if a.c.LogDebug {
		log.Printf("%s: scheduled %s for %v", a.c.LogPrefix, group, wait)
	}
}

// caller must be on scheduler goroutine
func (a *Arbiter) Release(group Group) {
	a.a.Scheduler().ProcessSync(
		&scheduler.ReleaseGroupEvent[Group]{
			Group: group,
		},
	)

	if a.c.LogDebug {
		log.Printf("%s: released %s", a.c.LogPrefix, group)
	}
}
