package dbengine

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// WatchConfigFile watches path for writes and invokes onChange with the
// freshly decoded Config each time the file is rewritten. It returns a
// closer that stops the watch; callers should defer its Close.
//
// Decode errors are logged and skipped rather than propagated: a partially
// written config file (editors often write-then-rename) should not crash a
// long-running process watching it.
func WatchConfigFile(path string, onChange func(Config)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fc, err := LoadConfigFile(path)
				if err != nil {
					log.Printf("dbengine: config reload %q failed: %v", path, err)
					continue
				}
				log.Printf("dbengine: config file %q changed, reloading defaults", path)
				onChange(fc.Config())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("dbengine: config watch error: %v", err)
			}
		}
	}()

	return watcher, nil
}
