package batchrunner

import (
	"context"
	"fmt"

	"github.com/gosom/exposure-monitor/runner"
)

type batchRunner struct {
	cfg   *runner.Config
	batch *runner.Batch
}

func New(ctx context.Context, cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeBatch {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	batch, err := runner.NewBatch(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ans := batchRunner{
		cfg:   cfg,
		batch: batch,
	}

	return &ans, nil
}

func (r *batchRunner) Run(ctx context.Context) error {
	_, err := r.batch.Run(ctx)

	return err
}

func (r *batchRunner) Close(context.Context) error {
	if r.batch != nil {
		return r.batch.Close()
	}

	return nil
}
