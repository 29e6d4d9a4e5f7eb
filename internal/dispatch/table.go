package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// HandlerFunc computes a reply on demand. ok=false means "send nothing".
type HandlerFunc func(ctx context.Context) (reply string, ok bool, err error)

// Command maps a trigger to either a literal Reply or a named Handler.
type Command struct {
	Trigger string
	Reply   string
	Handler string

	fn HandlerFunc
}

// IsHandler reports whether the command runs a handler rather than a literal reply.
func (c Command) IsHandler() bool { return c.fn != nil }

func (c Command) resolve(ctx context.Context) (string, bool, error) {
	if c.fn == nil {
		return c.Reply, true, nil
	}
	return c.fn(ctx)
}

// Table is an immutable trigger lookup. Swap whole tables to change it.
type Table struct {
	cmds map[string]Command
}

// Normalize is the canonical form both triggers and inbound text are matched in.
func Normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// NewTable builds a table from configured trigger -> value pairs. A value
// naming a key in handlers becomes a handler reference; any other value is
// sent verbatim. Triggers that collide after normalization are an error.
func NewTable(raw map[string]string, handlers map[string]HandlerFunc) (*Table, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := &Table{cmds: make(map[string]Command, len(raw))}
	for _, k := range keys {
		trigger := Normalize(k)
		if trigger == "" {
			return nil, fmt.Errorf("command %q: empty trigger", k)
		}
		if prev, dup := t.cmds[trigger]; dup {
			return nil, fmt.Errorf("command %q: duplicate trigger %q (also %q)", k, trigger, prev.Trigger)
		}
		val := raw[k]
		if strings.TrimSpace(val) == "" {
			return nil, fmt.Errorf("command %q: empty reply", k)
		}

		c := Command{Trigger: k}
		if fn, ok := handlers[strings.TrimSpace(val)]; ok && fn != nil {
			c.Handler = strings.TrimSpace(val)
			c.fn = fn
		} else {
			c.Reply = val
		}
		t.cmds[trigger] = c
	}
	return t, nil
}

// Lookup resolves already-normalized text.
func (t *Table) Lookup(cmd string) (Command, bool) {
	if t == nil {
		return Command{}, false
	}
	c, ok := t.cmds[cmd]
	return c, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cmds)
}

// Triggers returns the normalized triggers in sorted order.
func (t *Table) Triggers() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.cmds))
	for k := range t.cmds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
