package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor removes expired run workspaces and blobs no longer
// referenced by any model or dataset row
type Janitor struct {
	cfg        JanitorConfig
	storageCfg StorageConfig
	store      BlobStore
	meta       *MetadataStore
	tempRoot   string
	stop       chan struct{}
}

// SweepReport counts what one sweep removed
type SweepReport struct {
	Workspaces int `json:"workspaces"`
	Blobs      int `json:"blobs"`
}

// NewJanitor wires the janitor over the blob store and metadata store
func NewJanitor(cfg JanitorConfig, storageCfg StorageConfig, store BlobStore, meta *MetadataStore) *Janitor {
	return &Janitor{
		cfg:        cfg,
		storageCfg: storageCfg,
		store:      store,
		meta:       meta,
		tempRoot:   os.TempDir(),
	}
}

// Start sweeps on the configured schedule until Stop is called. The
// schedule is a standard 5-field cron expression.
func (j *Janitor) Start() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(j.cfg.Schedule)
	if err != nil {
		return errors.Wrapf(err, "invalid janitor schedule %q", j.cfg.Schedule)
	}

	j.stop = make(chan struct{})
	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			log.Info().Time("next", next).Msg("janitor sweep scheduled")

			select {
			case <-time.After(next.Sub(now)):
			case <-j.stop:
				return
			}

			if _, err := j.Sweep(); err != nil {
				log.Warn().Err(err).Msg("janitor sweep failed")
			}
		}
	}()
	return nil
}

// Stop ends the sweep loop
func (j *Janitor) Stop() {
	if j.stop != nil {
		close(j.stop)
		j.stop = nil
	}
}

// Sweep removes run workspaces and unreferenced blobs older than the
// configured age
func (j *Janitor) Sweep() (SweepReport, error) {
	cutoff := time.Now().Add(-j.cfg.MaxAge())
	report := SweepReport{}

	report.Workspaces = j.sweepWorkspaces(cutoff)

	removed, err := j.sweepBucket(j.storageCfg.ModelBucket, j.meta.ModelObjectKeys, cutoff)
	report.Blobs += removed
	if err != nil {
		return report, err
	}
	removed, err = j.sweepBucket(j.storageCfg.DatasetBucket, j.meta.DatasetObjectKeys, cutoff)
	report.Blobs += removed
	if err != nil {
		return report, err
	}

	log.Info().Int("workspaces", report.Workspaces).Int("blobs", report.Blobs).Msg("janitor sweep complete")
	return report, nil
}

// sweepWorkspaces removes leftover evaluation run directories. Runs
// clean up after themselves; anything still here belonged to a killed
// process.
func (j *Janitor) sweepWorkspaces(cutoff time.Time) int {
	matches, err := filepath.Glob(filepath.Join(j.tempRoot, "evalmodel-run-*"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, dir := range matches {
		fi, err := os.Stat(dir)
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove stale workspace")
			continue
		}
		removed++
	}
	return removed
}

// sweepBucket deletes blobs in a bucket that no row references and
// that are older than the cutoff
func (j *Janitor) sweepBucket(bucket string, referenced func() (map[string]bool, error), cutoff time.Time) (int, error) {
	keys, err := referenced()
	if err != nil {
		return 0, err
	}
	blobs, err := j.store.List(bucket)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, blob := range blobs {
		if keys[blob.Key] || blob.ModTime.After(cutoff) {
			continue
		}
		if err := j.store.Delete(bucket, blob.Key); err != nil && err != ErrBlobNotFound {
			log.Warn().Err(err).Str("bucket", bucket).Str("key", blob.Key).Msg("failed to remove orphaned blob")
			continue
		}
		removed++
	}
	return removed, nil
}
