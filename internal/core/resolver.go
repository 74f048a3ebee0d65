package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/cuebox/internal/ports"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// PresenceKindSession is the presence kind advertised by session servers.
const PresenceKindSession = "session"

// Resolver resolves selectors to node presence.
type Resolver struct {
	Presence ports.Broker
	Config   Config
}

// ResolveServer resolves a session server selector using config defaults.
// An empty selector with exactly one server online picks that server.
func (r Resolver) ResolveServer(ctx context.Context, selector string) (cue.Presence, error) {
	if selector == "" {
		selector = r.Config.Defaults.Server
	}

	presence, err := r.Presence.ListPresence(ctx)
	if err != nil {
		return cue.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	servers := filterPresenceByKind(presence, PresenceKindSession)
	if selector == "" {
		switch len(servers) {
		case 1:
			return servers[0], nil
		case 0:
			return cue.Presence{}, &CLIError{Code: ExitNotFound, Msg: "no session server online"}
		default:
			return cue.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("server selector required: %s", suggestionList(servers))}
		}
	}
	return resolveSelector(selector, servers, r.Config.Aliases)
}

func filterPresenceByKind(presence []cue.Presence, kind string) []cue.Presence {
	if kind == "" {
		return presence
	}
	out := make([]cue.Presence, 0, len(presence))
	for _, p := range presence {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func resolveSelector(selector string, presence []cue.Presence, aliases map[string]string) (cue.Presence, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return cue.Presence{}, &CLIError{Code: ExitUsage, Msg: "selector required"}
	}

	if alias, ok := aliases[selector]; ok {
		selector = alias
	}
	if strings.HasPrefix(selector, "cuebox:") {
		return resolveExact(selector, presence)
	}

	matches := make([]cue.Presence, 0)
	for _, p := range presence {
		if strings.EqualFold(p.Name, selector) || strings.EqualFold(p.NodeID, selector) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return cue.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no match for %q", selector)}
	default:
		return cue.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
	}
}

func resolveExact(nodeID string, presence []cue.Presence) (cue.Presence, error) {
	for _, p := range presence {
		if p.NodeID == nodeID {
			return p, nil
		}
	}
	return cue.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("node not found: %s", nodeID)}
}

func suggestionList(matches []cue.Presence) string {
	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.NodeID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
