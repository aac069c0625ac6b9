// Package env composes the environment handed to a bot during its audit.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env is an immutable environment recipe. The zero value yields an empty
// environment.
type Env struct {
	inherit bool
	vars    Var
	base    Var // snapshot of os.Environ when inherit is set
}

// New returns a recipe. When inherit is true the registry process environment
// is captured as the base layer.
func New(inherit bool) Env {
	e := Env{inherit: inherit, vars: Var{}}
	if inherit {
		e.base = parse(os.Environ())
	}
	return e
}

// FromMap returns a recipe with vars layered over the optional base.
func FromMap(inherit bool, vars map[string]string) Env {
	e := New(inherit)
	for k, v := range vars {
		e = e.WithSet(k, v)
	}
	return e
}

// WithSet returns a copy with K=V set. Empty keys are ignored.
func (e Env) WithSet(k, v string) Env {
	k = strings.TrimSpace(k)
	if k == "" || strings.ContainsRune(k, '=') {
		return e
	}
	out := Env{inherit: e.inherit, base: e.base, vars: make(Var, len(e.vars)+1)}
	for kk, vv := range e.vars {
		out.vars[kk] = vv
	}
	out.vars[k] = v
	return out
}

// Lookup reports the composed value of k before expansion.
func (e Env) Lookup(k string) (string, bool) {
	if v, ok := e.vars[k]; ok {
		return v, true
	}
	v, ok := e.base[k]
	return v, ok
}

// Merge layers base, recipe vars and extra ("K=V") in that order, expands
// ${VAR} references against the composed map and returns a sorted K=V slice.
func (e Env) Merge(extra []string) []string {
	m := make(Var, len(e.base)+len(e.vars)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range parse(extra) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// expand replaces ${NAME} with its value from m. Unknown names become empty,
// references are not expanded recursively and a bare $NAME is left alone.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+2+j]])
		s = s[i+2+j+1:]
	}
	return b.String()
}
