package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/geniolibre/publisher-backend/pkg/logger"
)

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) ReconcileAll(context.Context) error {
	f.calls++
	return f.err
}

func TestPublicationReconcileJobRunsSweep(t *testing.T) {
	sweeper := &fakeSweeper{}
	job, err := NewPublicationReconcileJob(PublicationReconcileJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: sweeper,
	})
	if err != nil {
		t.Fatalf("NewPublicationReconcileJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.calls)
	}
}

func TestPublicationReconcileJobPropagatesError(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("boom")}
	job, err := NewPublicationReconcileJob(PublicationReconcileJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: sweeper,
	})
	if err != nil {
		t.Fatalf("NewPublicationReconcileJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublicationReconcileJobRequiresSweeper(t *testing.T) {
	_, err := NewPublicationReconcileJob(PublicationReconcileJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	if err == nil {
		t.Fatal("expected constructor error")
	}
}
