package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"revision-planner/internal/schedule"
)

// ZoneResolver maps user zone names to locations, falling back to the
// configured default when a name cannot be loaded.
type ZoneResolver struct {
	fallback *time.Location
	log      *zap.SugaredLogger
}

func NewZoneResolver(defaultZone string, log *zap.SugaredLogger) (*ZoneResolver, error) {
	loc, err := schedule.LoadLocation(defaultZone)
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	return &ZoneResolver{fallback: loc, log: log}, nil
}

// Location never fails; an invalid name is logged and replaced by the default.
func (z *ZoneResolver) Location(timezone string) *time.Location {
	if timezone == "" {
		return z.fallback
	}
	loc, err := schedule.LoadLocation(timezone)
	if err != nil {
		z.log.Warnw("falling back to default timezone", "timezone", timezone, "fallback", z.fallback.String(), "error", err)
		return z.fallback
	}
	return loc
}

func (z *ZoneResolver) Default() *time.Location {
	return z.fallback
}
