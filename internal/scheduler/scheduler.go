package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ImageSource reports the captcha image that is still in use.
type ImageSource interface {
	CurrentImage() string
}

// ChatEvictor drops conversation state of idle chats.
type ChatEvictor interface {
	EvictIdle(ttl time.Duration) int
}

// PurgeDir removes every entry of dir except keep and entries modified within
// minAge. A missing dir is not an error. It returns the number of removed
// entries.
func PurgeDir(dir, keep string, minAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}

	keep = filepath.Clean(keep)
	cutoff := time.Now().Add(-minAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if path == keep {
			continue
		}
		if minAge > 0 {
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Janitor periodically removes superseded captcha images and forgets idle
// chats.
type Janitor struct {
	dir      string
	images   ImageSource
	chats    ChatEvictor
	interval time.Duration
	idleTTL  time.Duration
	logger   *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewJanitor(
	dir string,
	images ImageSource,
	chats ChatEvictor,
	interval time.Duration,
	idleTTL time.Duration,
	logger *logrus.Logger,
) *Janitor {
	return &Janitor{
		dir:      dir,
		images:   images,
		chats:    chats,
		interval: interval,
		idleTTL:  idleTTL,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.run(ctx)
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped: context cancelled")
			return
		case <-j.stopCh:
			j.logger.Info("janitor stopped: stop signal received")
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	// an image written after CurrentImage was read is younger than a tick
	keep := j.images.CurrentImage()
	removed, err := PurgeDir(j.dir, keep, j.interval)
	if err != nil {
		j.logger.WithField("error", err).Error("failed to purge captcha images")
	}

	evicted := j.chats.EvictIdle(j.idleTTL)

	if removed > 0 || evicted > 0 {
		j.logger.WithFields(logrus.Fields{
			"images_removed": removed,
			"chats_evicted":  evicted,
		}).Debug("cleanup done")
	}
}
