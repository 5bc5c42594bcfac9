package pool

import (
	"context"
	"log"
	"time"
)

// HealthCheck runs a ping against every idle connection, discarding any
// that are no longer healthy. Invoked once per maintenanceLoop tick.
func (p *Pool) HealthCheck() {
	p.mu.Lock()
	conns := make([]*Connection, len(p.idle))
	copy(conns, p.idle)
	p.mu.Unlock()

	failedSet := make(map[uint64]bool, len(conns))
	removed := 0

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.db.PingContext(ctx)
		cancel()

		if err != nil {
			log.Printf("[pool] health check failed for conn %d: %v", conn.id, err)
			conn.Close()
			p.closedTotal.Add(1)
			failedSet[conn.id] = true
			removed++
			continue
		}

		conn.mu.Lock()
		conn.lastHealthCheck = time.Now()
		conn.mu.Unlock()
	}

	if removed > 0 {
		p.mu.Lock()
		newIdle := make([]*Connection, 0, len(p.idle))
		for _, c := range p.idle {
			if !failedSet[c.id] {
				newIdle = append(newIdle, c)
			}
		}
		p.idle = newIdle
		p.updateMetrics()
		p.mu.Unlock()

		log.Printf("[pool] health check: removed %d unhealthy connections", removed)
	}
}
