package env

import (
	"os"
	"strings"
)

// Overlay is the daemon-wide environment applied to every spawned child:
// the daemon's own OS environment with configured overrides on top. Values
// may reference other variables as ${VAR}; expansion is single-pass.
type Overlay struct {
	overrides map[string]string
	base      map[string]string
}

// New builds an overlay from "K=V" override entries. Malformed entries
// (no '=', empty key) are skipped.
func New(overrides []string) *Overlay {
	o := &Overlay{overrides: make(map[string]string)}
	for _, kv := range overrides {
		if k, v, ok := splitKV(kv); ok {
			o.overrides[k] = v
		}
	}
	return o
}

// Empty reports whether the overlay changes anything. An empty overlay means
// children simply inherit the daemon environment.
func (o *Overlay) Empty() bool {
	return o == nil || len(o.overrides) == 0
}

// Environ composes the child environment: OS base, then overrides, then
// ${VAR} expansion against the composed map.
func (o *Overlay) Environ() []string {
	if o.base == nil {
		o.base = fromOS()
	}
	m := make(map[string]string, len(o.base)+len(o.overrides))
	for k, v := range o.base {
		m[k] = v
	}
	for k, v := range o.overrides {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func fromOS() map[string]string {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	return base
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
