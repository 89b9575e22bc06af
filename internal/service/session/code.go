package session

import (
	"fmt"
	"sync"
	"time"
)

// CodeGenerator produces human-readable session codes of the form
// <owner>-<yyyymmdd>-<n>. Numbering restarts per owner and day.
// Thread-safe.
type CodeGenerator struct {
	mu     sync.Mutex
	counts map[string]uint64
	now    func() time.Time
}

// NewCodeGenerator creates a generator using the wall clock in UTC.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{
		counts: make(map[string]uint64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Next returns the next code for ownerID.
func (g *CodeGenerator) Next(ownerID string) string {
	prefix := fmt.Sprintf("%s-%s", ownerID, g.now().Format("20060102"))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[prefix]++
	return fmt.Sprintf("%s-%d", prefix, g.counts[prefix])
}
