// Package scheduler drains a task queue through a bounded pool of concurrent
// transfers. One failed download never aborts its siblings; failures are
// logged and counted.
package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"epifetch/internal/logger"
	"epifetch/internal/naming"
	"epifetch/internal/progress"
	"epifetch/internal/task"
	"epifetch/internal/transfer"
)

// Config tunes one scheduler run.
type Config struct {
	// MaxConcurrent caps simultaneous transfers; zero or negative means
	// unbounded.
	MaxConcurrent int

	// OutputDir receives all downloaded files.
	OutputDir string

	// SeriesTitle is the raw series name; it is sanitized once per run.
	SeriesTitle string

	// IncludeTitles appends the episode title to each file name.
	IncludeTitles bool

	// Overwrite replaces existing target files instead of failing on them.
	Overwrite bool
}

// Scheduler executes download tasks against one shared transferer and
// progress registry.
type Scheduler struct {
	transferer *transfer.Transferer
	registry   *progress.Registry
	config     Config
}

// New assembles a Scheduler.
func New(transferer *transfer.Transferer, registry *progress.Registry, config Config) *Scheduler {
	return &Scheduler{
		transferer: transferer,
		registry:   registry,
		config:     config,
	}
}

// Run consumes the queue until it is closed and drained, then waits for all
// in-flight transfers and returns the number of failed tasks. The progress
// ticker runs alongside the transfers; it is designed to outlive them, so its
// early termination is reported as a bug. Cancelling ctx fails in-flight
// transfers but callers must still close the queue to unblock Run.
func (s *Scheduler) Run(ctx context.Context, queue *task.Queue) int {
	go func() {
		s.registry.TickForever()
		logger.Errorf("Progress ticker terminated before the downloads, this is a bug")
	}()

	seriesName := naming.SeriesFileName(s.config.SeriesTitle)

	var sem chan struct{}
	if s.config.MaxConcurrent > 0 {
		sem = make(chan struct{}, s.config.MaxConcurrent)
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)

	for {
		next, ok := queue.Pop()
		if !ok {
			break
		}

		if sem != nil {
			sem <- struct{}{}
		}

		wg.Add(1)

		go func(dt task.DownloadTask) {
			defer wg.Done()

			if sem != nil {
				defer func() { <-sem }()
			}

			if err := s.download(ctx, seriesName, dt); err != nil {
				failed.Add(1)
				logger.Warnf("Failed download of %s: %v", dt.DownloadURL, err)
			}
		}(next)
	}

	wg.Wait()
	s.registry.Clear()

	return int(failed.Load())
}

// download maps one task to a transfer: derive the episode file name, then
// hand off to the transferer.
func (s *Scheduler) download(ctx context.Context, seriesName string, dt task.DownloadTask) error {
	name := naming.EpisodeFileName(seriesName, dt.Language, dt.EpisodeInfo, s.config.IncludeTitles)

	logger.Debugf("Starting download task %s for %q", dt.ID, name)

	return s.transferer.DownloadToFile(ctx, transfer.Task{
		URL:        dt.DownloadURL,
		OutputPath: filepath.Join(s.config.OutputDir, name),
		Referer:    dt.Referer,
		Overwrite:  s.config.Overwrite,
	})
}
