package cli

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/rescache/display"
	"github.com/IvanBrykalov/rescache/internal/config"
)

// nodes keeps the running Display set in step with the configuration.
type nodes struct {
	servers display.ServerCache
	log     zerolog.Logger

	mu    sync.Mutex
	byKey map[string]*display.Display
}

func newNodes(servers display.ServerCache, log zerolog.Logger) *nodes {
	return &nodes{servers: servers, log: log, byKey: make(map[string]*display.Display)}
}

// apply creates, retargets and closes displays so the set matches want.
// Unchanged ports are left alone.
func (n *nodes) apply(ctx context.Context, want []config.DisplayConfig) {
	n.mu.Lock()
	defer n.mu.Unlock()

	keep := make(map[string]struct{}, len(want))
	for _, dc := range want {
		keep[dc.Name] = struct{}{}
		d, ok := n.byKey[dc.Name]
		switch {
		case !ok:
			d = display.New(ctx, dc.Name, dc.Port, n.servers, n.log)
			d.ImageReceived().Connect(n.imageReceived)
			n.byKey[dc.Name] = d
			n.log.Info().Str("display", dc.Name).Int("port", dc.Port).Msg("display added")
		case d.Port() != dc.Port:
			n.log.Info().Str("display", dc.Name).Int("from", d.Port()).Int("to", dc.Port).Msg("display port changed")
			d.SetPort(ctx, dc.Port)
		}
	}
	for name, d := range n.byKey {
		if _, ok := keep[name]; ok {
			continue
		}
		_ = d.Close()
		delete(n.byKey, name)
		n.log.Info().Str("display", name).Msg("display removed")
	}
}

func (n *nodes) imageReceived(d *display.Display) {
	ev := n.log.Info().Str("display", d.Name())
	if drv := d.Driver(); drv != nil {
		ev = ev.Int64("bytes", drv.Received())
	}
	ev.Msg("image received")
}

// get returns the display with the given name.
func (n *nodes) get(name string) (*display.Display, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.byKey[name]
	return d, ok
}

// statuses returns every display's status sorted by name.
func (n *nodes) statuses() []display.Status {
	n.mu.Lock()
	out := make([]display.Status, 0, len(n.byKey))
	for _, d := range n.byKey {
		out = append(out, d.Status())
	}
	n.mu.Unlock()

	slices.SortFunc(out, func(a, b display.Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (n *nodes) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for name, d := range n.byKey {
		_ = d.Close()
		delete(n.byKey, name)
	}
}
