// Package sessioncache persists QUIC resumption tickets across process
// restarts (spec §4.7 "consult the session cache before sending
// Initial", §6 "Persisted state"). It is a flat file of
// newline-separated "serverName base64(ticket)" records, reloaded
// whenever fsnotify reports the file changed out-of-process (a second
// instance sharing the same cache directory, or an operator editing it
// by hand).
package sessioncache

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Cache is an in-memory ticket store backed by a single file on disk.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string][]byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads path (if it exists) and starts watching its containing
// directory for rewrites. A missing file is not an error: Open starts
// an empty cache and creates the file on the first Put.
func Open(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string][]byte)}
	if err := c.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	c.watcher = watcher
	c.done = make(chan struct{})
	go c.watchLoop()
	return c, nil
}

func (c *Cache) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			_ = c.reload()
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Cache) reload() error {
	f, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer f.Close()

	entries := make(map[string][]byte)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, enc, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		ticket, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			continue
		}
		entries[name] = ticket
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Get returns the cached ticket for serverName, if any.
func (c *Cache) Get(serverName string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ticket, ok := c.entries[serverName]
	return ticket, ok
}

// Put stores ticket under serverName and rewrites the backing file.
func (c *Cache) Put(serverName string, ticket []byte) error {
	c.mu.Lock()
	c.entries[serverName] = ticket
	snapshot := make(map[string][]byte, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for name, t := range snapshot {
		if _, err := fmt.Fprintf(w, "%s %s\n", name, base64.StdEncoding.EncodeToString(t)); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Close stops the filesystem watcher. Safe to call on a Cache whose
// Open failed partway (nil watcher).
func (c *Cache) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}
