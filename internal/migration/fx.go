package migration

import (
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"github.com/hypergraphlabs/meridian/internal/catalog/seed"
	appconfig "github.com/hypergraphlabs/meridian/internal/config"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	"github.com/hypergraphlabs/meridian/internal/pause"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	teamdomain "github.com/hypergraphlabs/meridian/internal/team/domain"
	webhookdomain "github.com/hypergraphlabs/meridian/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg appconfig.Config) error {
		// Versioned migrations target postgres. The sqlite development
		// database is created from the models directly.
		if cfg.DBType == "sqlite" {
			if err := conn.AutoMigrate(
				&catalogdomain.Tier{},
				&catalogdomain.ServiceCost{},
				&creditdomain.Account{},
				&creditdomain.Transaction{},
				&subdomain.Account{},
				&subdomain.History{},
				&teamdomain.Team{},
				&teamdomain.Member{},
				&pause.Record{},
				&webhookdomain.EventRecord{},
			); err != nil {
				return err
			}
			return seed.EnsureCatalog(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		return seed.EnsureCatalog(conn)
	}),
)
