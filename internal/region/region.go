// Package region resolves which region a guild wants its audio served from.
package region

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/glizzus/encore/internal/config"
)

// Provider looks up a guild's preferred region. An empty result means
// the guild has no preference.
type Provider interface {
	Lookup(ctx context.Context, guildID string) (string, error)
}

// Resolve returns the guild's normalized region, or auto when the
// provider has none or fails.
func Resolve(ctx context.Context, p Provider, guildID string, log *slog.Logger) string {
	if p == nil {
		return config.RegionAuto
	}
	region, err := p.Lookup(ctx, guildID)
	if err != nil {
		if log != nil {
			log.Warn("failed to look up region, using auto", "guildID", guildID, "error", err)
		}
		return config.RegionAuto
	}
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		return config.RegionAuto
	}
	return region
}

// Static is an in-memory Provider. The zero value has no preferences.
type Static struct {
	mu      sync.RWMutex
	regions map[string]string
}

var _ Provider = (*Static)(nil)

func NewStatic(regions map[string]string) *Static {
	s := &Static{regions: make(map[string]string, len(regions))}
	for k, v := range regions {
		s.regions[k] = v
	}
	return s
}

func (s *Static) Lookup(_ context.Context, guildID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[guildID], nil
}

func (s *Static) Set(guildID, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.regions == nil {
		s.regions = make(map[string]string)
	}
	s.regions[guildID] = region
}
