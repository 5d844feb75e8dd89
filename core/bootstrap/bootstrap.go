// Package bootstrap initializes shared infrastructure and wires the
// application graph: logger, database, migrations, cache, transport,
// payment coordinator, and the command table.
package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/paybot/core/cache"
	coreconfig "github.com/m3rciful/paybot/core/config"
	coredatabase "github.com/m3rciful/paybot/core/database"
	"github.com/m3rciful/paybot/core/logger"
)

// Options control the infrastructure bootstrap pipeline.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
	CacheConn  func(coreconfig.CacheConfig) (*cache.Cache, error)
}

// Infra exposes infrastructure initialized by the bootstrap pipeline.
// Cache is nil when no Redis address is configured.
type Infra struct {
	DB    *sqlx.DB
	Cache *cache.Cache
}

// Close releases infrastructure handles in reverse init order.
func (i *Infra) Close() {
	if i.Cache != nil {
		_ = i.Cache.Close()
	}
	if i.DB != nil {
		_ = i.DB.Close()
	}
}

// Run initializes the logger, connects to the database, applies
// migrations, and connects the cache.
func Run(opts Options) (*Infra, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	dbCfg := databaseConfig(opts.Config)

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(dbCfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	infra := &Infra{DB: db}

	if opts.Config.Cache.Addr != "" {
		cacheConn := opts.CacheConn
		if cacheConn == nil {
			cacheConn = cache.Connect
		}
		c, err := cacheConn(opts.Config.Cache)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: cache initialization failed: %w", err)
		}
		infra.Cache = c
	}

	return infra, nil
}

func databaseConfig(cfg *coreconfig.Config) coredatabase.Config {
	return coredatabase.Config{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		Name:           cfg.Database.Name,
		SSLMode:        cfg.Database.SSLMode,
		MaxConnections: cfg.Database.MaxConnections,
	}
}
