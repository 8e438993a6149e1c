package assistants

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ModelOption 描述可选的聊天模型及能力标签。
type ModelOption struct {
	Provider     string   `json:"provider"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Recommended  bool     `json:"recommended,omitempty"`
}

var defaultCatalog = []ModelOption{
	{
		Provider:     "openai",
		Name:         "gpt-4o-mini",
		DisplayName:  "GPT-4o mini",
		Description:  "Fast general-purpose model for citizen questions.",
		Capabilities: []string{"chat", "stream"},
		Recommended:  true,
	},
	{
		Provider:     "openai",
		Name:         "gpt-4o",
		DisplayName:  "GPT-4o",
		Description:  "Higher quality answers for complex municipal topics.",
		Capabilities: []string{"chat", "stream", "vision"},
	},
	{
		Provider:     "openai",
		Name:         "gpt-4.1-mini",
		DisplayName:  "GPT-4.1 mini",
		Description:  "Long-context model for large knowledge bases.",
		Capabilities: []string{"chat", "stream"},
	},
	{
		Provider:     "mistral",
		Name:         "mistral-large-latest",
		DisplayName:  "Mistral Large",
		Description:  "Strong multilingual model hosted in the EU.",
		Capabilities: []string{"chat", "multilingual"},
	},
}

// Catalog holds the models assistants may use. When backed by a file it is
// reloaded whenever that file changes.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	options []ModelOption
}

// NewCatalog loads the catalog from path, falling back to the built-in list
// when path is empty or unreadable.
func NewCatalog(path string) *Catalog {
	catalog := &Catalog{path: strings.TrimSpace(path)}
	catalog.reload()
	return catalog
}

// Models returns a copy of the current catalog.
func (c *Catalog) Models() []ModelOption {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ModelOption(nil), c.options...)
}

// Has reports whether name is a catalog model.
func (c *Catalog) Has(name string) bool {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, option := range c.options {
		if strings.EqualFold(option.Name, name) {
			return true
		}
	}
	return false
}

// Default returns the recommended model, or the first one.
func (c *Catalog) Default() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, option := range c.options {
		if option.Recommended {
			return option.Name
		}
	}
	if len(c.options) > 0 {
		return c.options[0].Name
	}
	return ""
}

// Watch reloads the catalog on writes to its file until ctx is done. It
// watches the parent directory so editors that replace the file are seen.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(c.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("assistants: catalog watcher: %v", err)
			}
		}
	}()
	return nil
}

func (c *Catalog) reload() {
	options := c.load()
	c.mu.Lock()
	c.options = options
	c.mu.Unlock()
}

func (c *Catalog) load() []ModelOption {
	if c.path != "" {
		data, err := os.ReadFile(filepath.Clean(c.path))
		if err != nil {
			log.Printf("assistants: read model catalog %s: %v", c.path, err)
		} else if options := parseCatalog(data); len(options) > 0 {
			return options
		} else {
			log.Printf("assistants: model catalog %s is empty or invalid, using defaults", c.path)
		}
	}
	return append([]ModelOption(nil), defaultCatalog...)
}

func parseCatalog(data []byte) []ModelOption {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	var wrapped struct {
		Models []ModelOption `json:"models"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && len(wrapped.Models) > 0 {
		return normalizeCatalog(wrapped.Models)
	}

	var list []ModelOption
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil && len(list) > 0 {
		return normalizeCatalog(list)
	}
	return nil
}

func normalizeCatalog(list []ModelOption) []ModelOption {
	result := make([]ModelOption, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		option := ModelOption{
			Provider:     strings.TrimSpace(item.Provider),
			Name:         name,
			DisplayName:  strings.TrimSpace(item.DisplayName),
			Description:  strings.TrimSpace(item.Description),
			Capabilities: item.Capabilities,
			Recommended:  item.Recommended,
		}
		if option.DisplayName == "" {
			option.DisplayName = name
		}
		result = append(result, option)
	}
	return result
}
