package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env resolves ${VAR} references in configuration values such as DSNs.
// Overrides in Var win over the process environment.
type Env struct {
	Var Var
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.env = base
}

func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

func (e *Env) lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Expand replaces each ${VAR} in s. Unknown variables expand to the empty
// string and a bare $ is left alone, so DSN passwords containing $ survive.
// Expansion is a single pass; values are not expanded again.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		v, _ := e.lookup(s[i+2 : i+2+j])
		b.WriteString(v)
		s = s[i+2+j+1:]
	}
	b.WriteString(s)
	return b.String()
}

// ExpandAll expands every element of ss in place and returns it.
func (e *Env) ExpandAll(ss []string) []string {
	for i := range ss {
		ss[i] = e.Expand(ss[i])
	}
	return ss
}
