package env

import (
	"os"
	"sort"
	"strings"
)

// Env carries the globally configured environment entries shared by all
// workers.
type Env struct {
	global map[string]string
	base   map[string]string // cached OS environment, used for expansion
}

func New() *Env {
	return &Env{global: make(map[string]string)}
}

// FromOS caches the current process environment for ${VAR} expansion.
func (e *Env) FromOS() {
	e.base = parseAll(os.Environ())
}

// Set adds or replaces one global entry.
func (e *Env) Set(k, v string) {
	if k != "" {
		e.global[k] = v
	}
}

// SetAll adds every "K=V" entry; malformed entries are dropped.
func (e *Env) SetAll(kvs []string) {
	for k, v := range parseAll(kvs) {
		e.global[k] = v
	}
}

// Unset removes a global entry.
func (e *Env) Unset(k string) {
	delete(e.global, k)
}

// Merge composes the extra environment for one worker: global entries first,
// per-worker entries on top. ${VAR} references are expanded one level deep
// against the OS environment plus the composed entries; unknown variables are
// left untouched. The result is sorted by key and meant to be appended to the
// inherited environment, where later entries win.
func (e *Env) Merge(perWorker []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	extra := make(map[string]string, len(e.global)+len(perWorker))
	for k, v := range e.global {
		extra[k] = v
	}
	for k, v := range parseAll(perWorker) {
		extra[k] = v
	}
	if len(extra) == 0 {
		return nil
	}

	scope := make(map[string]string, len(e.base)+len(extra))
	for k, v := range e.base {
		scope[k] = v
	}
	for k, v := range extra {
		scope[k] = v
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(extra[k], scope))
	}
	return out
}

func parseAll(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

func expand(s string, scope map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range scope {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
