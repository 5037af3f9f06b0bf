// Package models implements the Model Manager: loading the on-disk model
// registry, and downloading, verifying, and extracting a selected model
// into the installed-models directory.
package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agalue/ember/internal/core"
)

// Entry is an immutable record describing one downloadable model (spec §3
// ModelRegistryEntry). IDs are constrained to alphanumerics plus `-_`, and
// URLs are restricted to a fixed hostname allowlist enforced at download
// time, not at load time, so a registry file can be edited offline without
// tripping validation until something actually tries to fetch it.
type Entry struct {
	ID               string `json:"id" yaml:"id"`
	URL              string `json:"url" yaml:"url"`
	SHA256           string `json:"sha256" yaml:"sha256"`
	Size             int64  `json:"size" yaml:"size"`
	Language         string `json:"language" yaml:"language"`
	WakePhrase       string `json:"wake_phrase" yaml:"wake_phrase"`
	HumanDescription string `json:"human_description" yaml:"human_description"`
}

// DefaultAllowedHosts is the fixed hostname allowlist downloads are
// restricted to. The Registry may be constructed with a different set for
// tests or for a host that mirrors models internally.
var DefaultAllowedHosts = []string{
	"huggingface.co",
	"github.com",
	"objects.githubusercontent.com",
}

// Registry holds the loaded set of model entries plus the hostname
// allowlist downloads must satisfy.
type Registry struct {
	mu           sync.RWMutex
	path         string
	entries      map[string]Entry
	allowedHosts map[string]struct{}
}

// NewRegistry creates an empty registry bound to path, ready for Load. The
// allowlist defaults to DefaultAllowedHosts.
func NewRegistry(path string) *Registry {
	r := &Registry{
		path:         path,
		entries:      make(map[string]Entry),
		allowedHosts: make(map[string]struct{}, len(DefaultAllowedHosts)),
	}
	for _, h := range DefaultAllowedHosts {
		r.allowedHosts[h] = struct{}{}
	}
	return r
}

// SetAllowedHosts replaces the hostname allowlist.
func (r *Registry) SetAllowedHosts(hosts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowedHosts = make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		r.allowedHosts[h] = struct{}{}
	}
}

// registryFile is the on-disk shape: a flat mapping from model_id to entry.
// The entry's own ID field is redundant with the map key but kept so a
// single Entry value is self-describing once looked up.
type registryFile map[string]Entry

// Load reads the registry file from disk, validating every entry. It may be
// called again at any time ("re-loaded on demand" per spec §4.6); a
// successful Load fully replaces the previous in-memory set. The file's
// extension picks the decoder: .yaml/.yml for a hand-maintained registry,
// anything else (including the default .json) for the machine-generated
// form a packaging step would produce from it.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return core.Wrap(core.CodeModelMissing, "failed to read model registry", err).WithField("path", r.path)
	}

	var raw registryFile
	ext := strings.ToLower(filepath.Ext(r.path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return core.Wrap(core.CodeModelMissing, "failed to parse model registry", err).WithField("path", r.path)
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return core.Wrap(core.CodeModelMissing, "failed to parse model registry", err).WithField("path", r.path)
	}

	entries := make(map[string]Entry, len(raw))
	for id, e := range raw {
		e.ID = id
		if err := validateEntry(e); err != nil {
			return err
		}
		entries[id] = e
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

func validateEntry(e Entry) error {
	if err := core.ValidateModelID(e.ID); err != nil {
		return err
	}
	if e.URL == "" {
		return core.NewError(core.CodeModelMissing, "model entry missing url").WithField("model_id", e.ID)
	}
	if _, err := url.Parse(e.URL); err != nil {
		return core.Wrap(core.CodeModelMissing, "model entry has malformed url", err).WithField("model_id", e.ID)
	}
	if len(e.SHA256) != 64 {
		return core.NewError(core.CodeModelMissing, "model entry sha256 must be 64 hex characters").WithField("model_id", e.ID)
	}
	return nil
}

// Get returns the entry for id, or an error with CodeModelMissing.
func (r *Registry) Get(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, core.NewError(core.CodeModelMissing, "model not found in registry").WithField("model_id", id)
	}
	return e, nil
}

// List returns every entry in the registry, unordered.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// CheckHostAllowed validates that e.URL's host is in the allowlist. Called
// immediately before any fetch, per spec §4.6 ("enforced before any
// fetch").
func (r *Registry) CheckHostAllowed(e Entry) error {
	u, err := url.Parse(e.URL)
	if err != nil {
		return core.Wrap(core.CodeDownloadFailed, "malformed model url", err).WithField("model_id", e.ID)
	}
	r.mu.RLock()
	_, ok := r.allowedHosts[u.Hostname()]
	r.mu.RUnlock()
	if !ok {
		return core.NewError(core.CodeDownloadFailed, fmt.Sprintf("host %q is not in the allowlist", u.Hostname())).WithField("model_id", e.ID)
	}
	return nil
}
