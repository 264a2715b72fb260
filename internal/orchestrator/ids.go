package orchestrator

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// idGenerator yields deploy-<tenant>-<unix ms> ids that never repeat within
// the process: when two calls land in the same millisecond the timestamp is
// bumped past the last one issued.
type idGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newIDGenerator() *idGenerator { return &idGenerator{now: time.Now} }

func (g *idGenerator) Next(tenantID string) string {
	g.mu.Lock()
	ts := g.now().UnixMilli()
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts
	g.mu.Unlock()
	return "deploy-" + tenantID + "-" + strconv.FormatInt(ts, 10)
}

// tenantOf recovers the tenant from a deployment id. Tenant slugs may contain
// dashes but the timestamp never does, so the last dash is the separator.
func tenantOf(id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, "deploy-")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return "", false
	}
	if _, err := strconv.ParseInt(rest[i+1:], 10, 64); err != nil {
		return "", false
	}
	return rest[:i], true
}
