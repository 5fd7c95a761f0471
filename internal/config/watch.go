package config

import (
	"context"
	"os"
	"time"
)

// WatchCatalog polls the catalog file and calls onUpdate with every valid new
// version. It performs an initial load before returning; an invalid edit is
// skipped and the previous catalog stays in force.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, onUpdate func(*Catalog)) error {
	if path == "" {
		path = DefaultCatalogPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cat, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cat)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cat, err := LoadCatalog(path)
				if err != nil {
					continue
				}
				lastMod = info.ModTime()
				if onUpdate != nil {
					onUpdate(cat)
				}
			}
		}
	}()

	return nil
}
