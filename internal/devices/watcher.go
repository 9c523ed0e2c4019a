package devices

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// CredentialsFile is the on-disk format for pre-provisioned devices.
type CredentialsFile struct {
	Devices []DeviceEntry `yaml:"devices"`
}

// LoadCredentials reads a YAML credentials file into the registry.
// Existing entries win; the file cannot overwrite a registered secret.
func (r *Registry) LoadCredentials(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var file CredentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, err
	}

	loaded := 0
	for _, e := range file.Devices {
		if r.Register(e.DeviceID, e.Secret, e.Model) {
			loaded++
		}
	}
	return loaded, nil
}

// WatchCredentials reloads the credentials file on change until ctx is
// cancelled. Falls back to polling when fsnotify cannot watch the path.
func (r *Registry) WatchCredentials(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[DEVICES] Credentials watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(path); err != nil {
		log.Printf("[DEVICES] Credentials watcher: cannot watch %s (%v), falling back to polling", path, err)
		usePolling = true
		watcher.Close()
	}

	go func() {
		if usePolling {
			ticker := time.NewTicker(60 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.reloadCredentials(path)
				}
			}
		}

		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// Editors often truncate-then-write; give the write a moment.
					time.Sleep(100 * time.Millisecond)
					r.reloadCredentials(path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[DEVICES] Credentials watcher error: %v", err)
			}
		}
	}()
}

func (r *Registry) reloadCredentials(path string) {
	n, err := r.LoadCredentials(path)
	if err != nil {
		log.Printf("[DEVICES] Credentials reload failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[DEVICES] Credentials reload: %d new devices", n)
	}
}
