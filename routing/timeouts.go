package routing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DefaultTimeout is used for the events without a configured timeout.
const DefaultTimeout = 30 * time.Second

// Timeouts holds the per event timeouts of the applications. The empty
// event name stores the default of an application.
type Timeouts map[string]map[string]time.Duration

// Lookup returns the timeout of an event, falling back to the default of
// the application.
func (t Timeouts) Lookup(name, event string) (time.Duration, bool) {
	events, ok := t[name]
	if !ok {
		return 0, false
	}

	if d, ok := events[event]; ok {
		return d, true
	}

	d, ok := events[""]
	return d, ok
}

// Set stores the timeout of an event. An empty event sets the default of
// the application.
func (t Timeouts) Set(name, event string, d time.Duration) {
	events, ok := t[name]
	if !ok {
		events = make(map[string]time.Duration)
		t[name] = events
	}

	events[event] = d
}

// Merge returns a copy of t overridden by o.
func (t Timeouts) Merge(o Timeouts) Timeouts {
	m := make(Timeouts)
	for _, src := range []Timeouts{t, o} {
		for name, events := range src {
			for event, d := range events {
				m.Set(name, event, d)
			}
		}
	}

	return m
}

func parseTimeoutValue(v any) (time.Duration, error) {
	switch vt := v.(type) {
	case int:
		return time.Duration(vt) * time.Second, nil
	case float64:
		return time.Duration(vt * float64(time.Second)), nil
	case string:
		return time.ParseDuration(vt)
	default:
		return 0, fmt.Errorf("invalid timeout: %v", v)
	}
}

// ParseTimeouts parses a YAML document of application timeouts. The value
// of an application is either a timeout or a map of event timeouts, where
// timeouts are seconds or duration strings:
//
//	app1: 5
//	app2:
//	  "": 10s
//	  upload: 120
func ParseTimeouts(data []byte) (Timeouts, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	t := make(Timeouts)
	for name, v := range doc {
		events, ok := v.(map[any]any)
		if !ok {
			d, err := parseTimeoutValue(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}

			t.Set(name, "", d)
			continue
		}

		for event, ev := range events {
			d, err := parseTimeoutValue(ev)
			if err != nil {
				return nil, fmt.Errorf("%s/%v: %w", name, event, err)
			}

			t.Set(name, fmt.Sprint(event), d)
		}
	}

	return t, nil
}

// LoadTimeoutsFile reads and parses a timeouts file.
func LoadTimeoutsFile(path string) (Timeouts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseTimeouts(data)
}

// WatchTimeoutsFile calls apply with the content of the timeouts file every
// time it changes, until the context is done. The directory of the file is
// watched, so files replaced by renaming are picked up as well. When the
// file cannot be parsed, the previous timeouts stay in effect.
func WatchTimeoutsFile(ctx context.Context, path string, apply func(Timeouts)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create timeouts watcher: %w", err)
	}

	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			t, err := LoadTimeoutsFile(path)
			if err != nil {
				log.Errorf("failed to reload timeouts from %s: %v", path, err)
				continue
			}

			log.Infof("timeouts reloaded from %s", path)
			apply(t)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			log.Errorf("timeouts watcher: %v", err)
		}
	}
}
