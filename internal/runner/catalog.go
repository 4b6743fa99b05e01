package runner

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog maps request-type tags to the Requester that executes them.
// Entries are registered once at startup; lookups are safe for concurrent use
// after registration is complete.
type Catalog struct {
	entries map[string]Requester
	order   []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Requester)}
}

// Register binds a request-type tag to a Requester.
func (c *Catalog) Register(tag string, req Requester) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("request type tag cannot be empty")
	}
	if req == nil {
		return fmt.Errorf("request type %q: requester cannot be nil", tag)
	}
	if _, exists := c.entries[tag]; exists {
		return fmt.Errorf("request type %q already registered", tag)
	}
	c.entries[tag] = req
	c.order = append(c.order, tag)
	return nil
}

// Lookup returns the Requester registered for tag.
func (c *Catalog) Lookup(tag string) (Requester, bool) {
	if c == nil {
		return nil, false
	}
	req, ok := c.entries[tag]
	return req, ok
}

// Types returns the registered tags in registration order.
func (c *Catalog) Types() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Has reports whether tag is registered.
func (c *Catalog) Has(tag string) bool {
	_, ok := c.Lookup(tag)
	return ok
}

// Unknown returns the tags in types that are not registered, sorted and
// without duplicates.
func (c *Catalog) Unknown(types []string) []string {
	seen := make(map[string]struct{})
	var unknown []string
	for _, t := range types {
		if c.Has(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unknown = append(unknown, t)
	}
	sort.Strings(unknown)
	return unknown
}

// Wrap returns a new catalog whose requesters are wrapped by fn.
func (c *Catalog) Wrap(fn func(tag string, req Requester) Requester) *Catalog {
	wrapped := NewCatalog()
	if c == nil {
		return wrapped
	}
	for _, tag := range c.order {
		wrapped.entries[tag] = fn(tag, c.entries[tag])
		wrapped.order = append(wrapped.order, tag)
	}
	return wrapped
}

// UnsupportedTypeError is recorded when a work item names a tag with no
// registered Requester.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported request type: %s", e.Type)
}
