// Package cli wires the command line interface to the solve pipeline.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jnoonan94/ccd-intro/internal/config"
	"github.com/jnoonan94/ccd-intro/internal/pipeline"
	"github.com/jnoonan94/ccd-intro/internal/solve"
	"github.com/jnoonan94/ccd-intro/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Root wires CLI commands to the pipeline and services.
type Root struct {
	pipeline pipelineClient
	solver   *solve.Assigner
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
}

// NewRoot constructs the CLI root state.
func NewRoot(pl *pipeline.Pipeline, solver *solve.Assigner, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		solver:   solver,
		cfg:      cfg,
		log:      logger,
		store:    store,
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res.Error
				}
				return nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "id", job.ID, "file", job.File)
	return nil
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
