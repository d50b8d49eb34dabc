package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/campus-events/event-registration/api"
	"github.com/campus-events/event-registration/dynamo"
	"github.com/campus-events/event-registration/postgres"
)

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// createDB returns the configured store and whatever must be closed on
// shutdown.
func createDB(ctx context.Context, cfg Config, awsCfg aws.Config, logger *slog.Logger) (api.DB, io.Closer, error) {
	switch cfg.StoreBackend {
	case storePostgres:
		sqlDB, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		db := postgres.NewDB(sqlDB)
		if err := db.Migrate(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		logger.Info("Using postgres store")

		return db, sqlDB, nil
	case storeDynamo:
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})

		// Deployed tables are managed outside the service.
		if cfg.DynamoEndpoint != "" {
			if err := dynamo.EnsureTable(ctx, client, cfg.DynamoTable); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("Using dynamo store", slog.String("table", cfg.DynamoTable))

		return dynamo.NewDB(client, cfg.DynamoTable), noopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
