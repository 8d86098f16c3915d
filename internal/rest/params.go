package rest

import (
	"net/url"
	"sort"
	"strings"
)

type pair struct {
	key   string
	value string
}

// Params is an ordered set of query parameters. The exchange verifies the
// signature against the exact byte sequence transmitted, so insertion order
// must survive from signing through transmission.
type Params struct {
	pairs []pair
}

// NewParams returns an empty ordered parameter set.
func NewParams() *Params {
	return &Params{}
}

// Set replaces the value for key in place, or appends the pair when absent.
func (p *Params) Set(key, value string) *Params {
	for i := range p.pairs {
		if p.pairs[i].key == key {
			p.pairs[i].value = value
			return p
		}
	}
	p.pairs = append(p.pairs, pair{key: key, value: value})
	return p
}

// Get returns the value for key and whether it is present.
func (p *Params) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, kv := range p.pairs {
		if kv.key == key {
			return kv.value, true
		}
	}
	return "", false
}

// Delete removes key if present.
func (p *Params) Delete(key string) {
	for i, kv := range p.pairs {
		if kv.key == key {
			p.pairs = append(p.pairs[:i], p.pairs[i+1:]...)
			return
		}
	}
}

// Len reports the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.pairs)
}

// Clone returns an independent copy preserving order.
func (p *Params) Clone() *Params {
	if p == nil {
		return NewParams()
	}
	out := &Params{pairs: make([]pair, len(p.pairs))}
	copy(out.pairs, p.pairs)
	return out
}

// SortByKey orders the parameters lexicographically so repeated page
// requests produce a reproducible query string.
func (p *Params) SortByKey() *Params {
	sort.SliceStable(p.pairs, func(i, j int) bool {
		return p.pairs[i].key < p.pairs[j].key
	})
	return p
}

// Encode serializes the parameters as k=v pairs joined by & in their current
// order. Keys and values are escaped identically for signing and transport.
func (p *Params) Encode() string {
	if p == nil || len(p.pairs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, kv := range p.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String()
}
