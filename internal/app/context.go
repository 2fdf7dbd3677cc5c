package app

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/cache"
	"github.com/oggyb/crewsnow/internal/config"
	"github.com/oggyb/crewsnow/internal/invoker"
)

// AppContext holds shared dependencies (DB, Redis, Logger, etc.)
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Analytics  analytics.Tracker
	Invoker    *invoker.HTTPInvoker
	Grants     *auth.Grants
	Clock      func() time.Time
}

// New creates a new AppContext. Analytics is a disabled forwarder, Invoker
// and Grants are built from cfg and Clock is time.Now until overridden.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Analytics:  analytics.New(analytics.Options{}, logger),
		Invoker:    invoker.NewFromConfig(cfg),
		Grants:     auth.NewGrantsFromConfig(cfg),
		Clock:      time.Now,
	}
}

// Now reads the context clock.
func (a *AppContext) Now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock()
}

// Location is the service timezone used for daily quotas.
func (a *AppContext) Location() *time.Location {
	if a.Config == nil || a.Config.App.Timezone == nil {
		return time.UTC
	}
	return a.Config.App.Timezone
}
