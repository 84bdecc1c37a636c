package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "refebot/pkg/logx"
)

const (
	settleDelay    = 250 * time.Millisecond
	validatorLimit = 5 * time.Second
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watch follows the config file until ctx is done, publishing every valid
// change. The directory is watched rather than the file so editors that
// replace the file on save are still seen. Without a file Watch only waits.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchDir(ctx, dir, name, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			break
		}
		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return nil
}

var errWatcherClosed = errors.New("watcher channels closed")

// watchDir runs one fsnotify watcher until it breaks or ctx ends. Bursts of
// events are collapsed into one reload after settleDelay.
func (m *ConfigManager) watchDir(ctx context.Context, dir, name string, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()
	kick := func() { settle.Reset(settleDelay) }

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				kick()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow, reloading", logx.String("dir", dir))
				kick()
			} else if err != nil {
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}

// reload commits and publishes the file when it parses, passes the
// validator and differs from the current config.
func (m *ConfigManager) reload(ctx context.Context) bool {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return false
	}
	d := digest(cfg)
	if m.sameAsCurrent(d) {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return false
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validatorLimit)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected by validator", logx.String("path", m.path), logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("digest", fmt.Sprintf("%016x", d)))
	return true
}
