package main

import (
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/rsepassi/rebuild/internal/hash"
)

// configFlag accumulates repeated "-D key=value" flags into a map,
// implementing flag.Value so it can be registered directly with a
// flag.FlagSet (spec.md §4.4 Configuration dimension of the request
// key).
type configFlag map[string]string

func (c *configFlag) String() string {
	if c == nil {
		return ""
	}
	var parts []string
	for k, v := range *c {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (c *configFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return xerrors.Errorf("-D %q: want key=value", s)
	}
	if *c == nil {
		*c = make(configFlag)
	}
	(*c)[k] = v
	return nil
}

// Hash mixes every key=value pair into a single order-independent hash,
// or the zero hash if no -D flags were given, so builds run without any
// config vars keep their legacy request keys (spec.md §4.4).
func (c configFlag) Hash() hash.Hash {
	acc := hash.Zero
	for k, v := range c {
		acc = acc.XOR(hash.Bytes([]byte(k + "=" + v)))
	}
	return acc
}
