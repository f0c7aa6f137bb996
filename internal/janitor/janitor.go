// Package janitor removes stale job files from the temp directory.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var DefaultExtensions = []string{".mp3", ".wav", ".mp4", ".avi", ".mov", ".txt", ".csv"}

// Config controls what a sweep removes.
type Config struct {
	Dir        string
	Retention  time.Duration
	Interval   time.Duration
	Extensions []string
}

// Report summarises one sweep.
type Report struct {
	Scanned int
	Matched int
	Removed int
	Failed  int
}

// Janitor deletes files named after jobs once they are older than the retention.
// It never looks at job records.
type Janitor struct {
	cfg  Config
	exts map[string]bool
	now  func() time.Time
	cron *cron.Cron
}

func New(cfg Config) *Janitor {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Janitor{cfg: cfg, exts: exts, now: time.Now}
}

// partialSuffix marks result files left half-written by a crashed worker.
const partialSuffix = ".part"

// Matches reports whether name looks like a job file: a UUID followed by
// "_<original name>" or directly by the extension, with an allowed extension.
// Partial result files (<uuid>.csv.<random>.part) always match.
func (j *Janitor) Matches(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if !j.exts[ext] && ext != partialSuffix {
		return false
	}
	if len(name) <= 36 {
		return false
	}
	if _, err := uuid.Parse(name[:36]); err != nil {
		return false
	}
	return name[36] == '_' || name[36] == '.'
}

// Sweep scans the directory once. Errors on single files are counted and
// logged; only an unreadable directory fails the sweep.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return rep, fmt.Errorf("read %s: %w", j.cfg.Dir, err)
	}
	cutoff := j.now().Add(-j.cfg.Retention)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		rep.Scanned++
		if !j.Matches(entry.Name()) {
			continue
		}
		rep.Matched++

		path := filepath.Join(j.cfg.Dir, entry.Name())
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			rep.Failed++
			log.WithError(err).WithField("path", path).Warn("Janitor could not stat file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			rep.Failed++
			log.WithError(err).WithField("path", path).Warn("Janitor could not remove file")
			continue
		}
		rep.Removed++
		log.WithFields(log.Fields{"path": path, "age": j.now().Sub(info.ModTime()).Round(time.Second)}).Debug("Removed stale file")
	}
	return rep, nil
}

// Start runs Sweep every Interval until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc("@every "+j.cfg.Interval.String(), func() {
		rep, err := j.Sweep(ctx)
		entry := log.WithFields(log.Fields{
			"scanned": rep.Scanned, "matched": rep.Matched, "removed": rep.Removed, "failed": rep.Failed,
		})
		if err != nil {
			entry.WithError(err).Error("Janitor sweep failed")
			return
		}
		entry.Info("Janitor sweep finished")
	})
	if err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	j.cron.Start()
	log.Infof("Janitor watching %s every %s (retention %s)", j.cfg.Dir, j.cfg.Interval, j.cfg.Retention)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
