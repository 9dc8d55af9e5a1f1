package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/geniolibre/publisher-backend/pkg/logger"
)

// txRunner abstracts the database transaction helper jobs run inside.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publicationSweeper interface {
	ReconcileAll(ctx context.Context) error
}

// PublicationReconcileJobParams configure the reconcile sweep job.
type PublicationReconcileJobParams struct {
	Logger  *logger.Logger
	Sweeper publicationSweeper
}

// NewPublicationReconcileJob wraps the publication sweep in a cron job. The
// sweep itself serializes per-publication work behind entity locks, so the
// job only reports the combined outcome.
func NewPublicationReconcileJob(params PublicationReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("publication sweeper required")
	}
	return &publicationReconcileJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
	}, nil
}

type publicationReconcileJob struct {
	logg    *logger.Logger
	sweeper publicationSweeper
}

func (j *publicationReconcileJob) Name() string { return "publication-reconcile" }

func (j *publicationReconcileJob) Run(ctx context.Context) error {
	if err := j.sweeper.ReconcileAll(ctx); err != nil {
		return fmt.Errorf("publication reconcile: %w", err)
	}
	j.logg.Info(ctx, "publication reconcile sweep complete")
	return nil
}
