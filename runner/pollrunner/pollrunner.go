package pollrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gosom/exposure-monitor/runner"
	"github.com/gosom/exposure-monitor/sqlite"
)

const dbfname = "scheduler.db"

type pollRunner struct {
	cfg   *runner.Config
	db    *sql.DB
	state *sqlite.RunStateRepository
	loc   *time.Location
	slots []runner.SlotTime

	interval time.Duration
	started  time.Time
	now      func() time.Time

	// runBatch evaluates one batch and returns its id.
	runBatch func(ctx context.Context) (string, error)
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeSchedule {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if cfg.DataFolder == "" {
		return nil, fmt.Errorf("data folder is required")
	}

	slots, err := runner.ParseSlots(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, err
	}

	db, err := sqlite.InitDB(filepath.Join(cfg.DataFolder, dbfname))
	if err != nil {
		return nil, err
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ans := pollRunner{
		cfg:      cfg,
		db:       db,
		state:    sqlite.NewRunStateRepository(db),
		loc:      loc,
		slots:    slots,
		interval: interval,
		now:      time.Now,
	}

	ans.started = ans.now()
	ans.runBatch = ans.newBatch

	return &ans, nil
}

func (p *pollRunner) Run(ctx context.Context) error {
	log.Printf("scheduler started: slots %v in %s", p.slots, p.loc)

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return p.schedule(ctx)
	})

	egroup.Go(func() error {
		return p.work(ctx)
	})

	return egroup.Wait()
}

func (p *pollRunner) Close(context.Context) error {
	if p.db != nil {
		return p.db.Close()
	}

	return nil
}

// schedule marks slots pending as they become due.
func (p *pollRunner) schedule(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.markDue(ctx); err != nil {
			log.Printf("scheduler: failed to mark due slots: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Printf("scheduler shutting down")

			return nil
		case <-ticker.C:
		}
	}
}

// markDue records every slot that fell due since shortly before the process
// started. Older occurrences are never triggered.
func (p *pollRunner) markDue(ctx context.Context) error {
	horizon := p.started.Add(-p.interval)

	for _, due := range runner.DueSlots(p.now(), p.loc, p.slots) {
		if due.At.Before(horizon) {
			continue
		}

		created, err := p.state.MarkPending(ctx, due.Key, due.At)
		if err != nil {
			return err
		}

		if created {
			log.Printf("scheduler: slot %s is due", due.Key)
		}
	}

	return nil
}

// work runs pending slots one at a time, so a slot never starts while another
// batch is running.
func (p *pollRunner) work(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.runPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("scheduler: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Printf("scheduler worker shutting down")

			return nil
		case <-ticker.C:
		}
	}
}

// runPending runs one batch for the unfinished slots. Slots left pending or
// running by a previous process are caught up here. When several are waiting
// a single batch serves all of them.
func (p *pollRunner) runPending(ctx context.Context) error {
	slots, err := p.state.Unfinished(ctx)
	if err != nil {
		return fmt.Errorf("failed to select unfinished slots: %w", err)
	}

	if len(slots) == 0 {
		return nil
	}

	for i := range slots {
		if slots[i].Status == sqlite.SlotRunning {
			log.Printf("scheduler: slot %s was interrupted, running it again", slots[i].Key)
		}

		if err := p.state.SetStatus(ctx, slots[i].Key, sqlite.SlotRunning, ""); err != nil {
			return err
		}
	}

	latest := slots[len(slots)-1].Key

	log.Printf("scheduler: running batch for slot %s (%d waiting)", latest, len(slots))

	batchID, runErr := p.runBatch(ctx)

	if ctx.Err() != nil {
		// leave the slots running so the next process catches them up
		return ctx.Err()
	}

	status := sqlite.SlotDone
	if runErr != nil {
		status = sqlite.SlotFailed

		log.Printf("scheduler: batch for slot %s failed: %v", latest, runErr)
	}

	for i := range slots {
		if err := p.state.SetStatus(ctx, slots[i].Key, status, batchID); err != nil {
			return err
		}
	}

	return nil
}

func (p *pollRunner) newBatch(ctx context.Context) (string, error) {
	batch, err := runner.NewBatch(ctx, p.cfg)
	if err != nil {
		return "", err
	}

	defer func() {
		if err := batch.Close(); err != nil {
			log.Printf("scheduler: failed to close batch: %v", err)
		}
	}()

	rep, err := batch.Run(ctx)
	if rep == nil {
		return "", err
	}

	return rep.BatchID, err
}
