// Command migrate prepares the configured booking store and optionally seeds
// resources:
//
//	migrate -seed-resource room-1:"Board Room":user-7 -seed-resource lab:Lab:user-2
package main

import (
	"context"
	"errors"
	"flag"
	"time"

	bookingserrors "slotkeeper/internal/bookings/errors"
	"slotkeeper/internal/bookings/repository"
	mongoMigration "slotkeeper/internal/migrations/mongo"
	sqlMigration "slotkeeper/internal/migrations/sql"
	"slotkeeper/pkg/config"
	"slotkeeper/pkg/model"
)

const JobName = "migrate"

func main() {
	var seeds model.ResourceFlags
	flag.Var(&seeds, "seed-resource", "resource to insert as id:name:owner (repeatable)")
	timeout := flag.Duration("timeout", 120*time.Second, "overall deadline for the job")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := config.Load(JobName)
	cfg.ConnectStore()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting migration job", "store", cfg.StoreDriver)
	if err := migrate(ctx, cfg); err != nil {
		cfg.Log.Fatal("Migration failed", "error", err)
	}
	if err := seed(ctx, cfg, seeds); err != nil {
		cfg.Log.Fatal("Seeding failed", "error", err)
	}
	cfg.Log.Info("Migration completed successfully")
}

func migrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		return mongoMigration.RunMigration(ctx, cfg.Client.Mongo.Database(cfg.MongoDatabaseName), cfg.Log)
	case config.StorePostgres, config.StoreMySQL:
		return sqlMigration.RunMigration(ctx, cfg.Client.SQL, cfg.Client.SQLDriver, cfg.Log)
	default:
		cfg.Log.Info("Nothing to migrate for store", "store", cfg.StoreDriver)
		return nil
	}
}

func seed(ctx context.Context, cfg *config.Config, flags model.ResourceFlags) error {
	if len(flags) == 0 {
		return nil
	}
	store, err := repository.Open(cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, raw := range flags {
		resource, err := model.ParseResourceFlag(raw, now)
		if err != nil {
			return err
		}
		err = store.CreateResource(ctx, resource)
		switch {
		case errors.Is(err, bookingserrors.ErrResourceExists):
			cfg.Log.Info("Resource already present", "resource_id", resource.ID)
		case err != nil:
			return err
		default:
			cfg.Log.Info("Resource seeded", "resource_id", resource.ID, "owner_id", resource.OwnerID)
		}
	}
	return nil
}
