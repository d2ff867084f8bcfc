package vdoc

import (
	"time"
)

// DidChangeHost drops the partition of an edited host document and schedules
// a debounced content-changed push for its virtual document. Edits arriving
// within the debounce window reset the timer.
func (c *Coordinator) DidChangeHost(host string, version int32) {
	uri := c.VirtualURI(host)
	c.store.Invalidate(uri)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[host]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.opts.Debounce, func() {
		c.mu.Lock()
		current := c.timers[host] == timer
		if current {
			delete(c.timers, host)
		}
		c.mu.Unlock()
		if !current {
			return
		}
		log.Debugf("host %s changed to version %d, refreshing %s", host, version, uri)
		c.contentChanged.Fire(uri)
	})
	c.timers[host] = timer
}

// DidCloseHost cancels any pending push and removes every partition and
// record derived from host.
func (c *Coordinator) DidCloseHost(host string) {
	derived := func(uri string) bool {
		h, err := HostURI(uri)
		return err == nil && h == host
	}
	c.store.InvalidateWhere(derived)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[host]; ok {
		t.Stop()
		delete(c.timers, host)
	}
	for uri := range c.records {
		if derived(uri) {
			delete(c.records, uri)
		}
	}
}

// Close stops every pending push.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for host, t := range c.timers {
		t.Stop()
		delete(c.timers, host)
	}
}
