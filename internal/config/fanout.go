package config

import (
	"slices"
	"sync"

	logx "refebot/pkg/logx"
)

// fanout hands committed configs to subscribers. Sends never block: a
// subscriber that has not drained its channel has the stale entry replaced
// so it always sees the newest config.
type fanout struct {
	subMu sync.Mutex
	subs  []chan *Config
	log   logx.Logger
}

func (f *fanout) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	f.subMu.Lock()
	f.subs = append(f.subs, ch)
	f.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (f *fanout) Unsubscribe(ch chan *Config) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if i := slices.Index(f.subs, ch); i >= 0 {
		f.subs = slices.Delete(f.subs, i, i+1)
		close(ch)
	}
}

func (f *fanout) publish(cfg *Config) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		if offer(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		if !offer(ch, cfg) {
			f.log.Debug("config update dropped for slow subscriber", logx.Int("cap", cap(ch)))
		}
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}
