package xledger

// Router decides, per event, which broker channels receive the fan-out copy.
// The durable log always receives the event; that write is the bus's job, not
// the router's. Routing is a pure, deterministic function of (kind, target).
type Router struct {
	// Prefix namespaces every channel name on the broker (default "xledger").
	Prefix string
}

// NewRouter returns a router with the default channel prefix.
func NewRouter() *Router { return &Router{Prefix: "xledger"} }

// BroadcastChannel is the global channel every subscriber may listen on.
func (r *Router) BroadcastChannel() string {
	return r.prefix() + ".broadcast"
}

// DirectChannel is the private channel for a single addressee.
func (r *Router) DirectChannel(target string) string {
	return r.prefix() + ".direct." + target
}

// NamespaceChannel is the shared channel for one kind namespace: every
// "mission.*" kind lands on the same channel.
func (r *Router) NamespaceChannel(namespace string) string {
	return r.prefix() + "." + namespace
}

// Route returns the broker channels for ev, in priority order:
// a set target wins, then the reserved broadcast kind, then the kind's
// namespace prefix, falling back to broadcast for separator-less kinds.
func (r *Router) Route(ev Event) []string {
	switch {
	case ev.Target != "":
		return []string{r.DirectChannel(ev.Target)}
	case ev.Kind == KindBroadcast:
		return []string{r.BroadcastChannel()}
	}
	ns := kindNamespace(ev.Kind)
	if ns == "" || ns == ev.Kind {
		return []string{r.BroadcastChannel()}
	}
	return []string{r.NamespaceChannel(ns)}
}

// ChannelsForKinds collapses a kind set into the subscription channel set:
// one namespace channel per distinct prefix, plus broadcast when any kind
// maps there.
func (r *Router) ChannelsForKinds(kinds []string) []string {
	seen := make(map[string]struct{}, len(kinds))
	var out []string
	for _, k := range kinds {
		var ch string
		switch {
		case k == KindBroadcast:
			ch = r.BroadcastChannel()
		default:
			ns := kindNamespace(k)
			if ns == "" || ns == k {
				ch = r.BroadcastChannel()
			} else {
				ch = r.NamespaceChannel(ns)
			}
		}
		if _, dup := seen[ch]; !dup {
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out
}

func (r *Router) prefix() string {
	if r == nil || r.Prefix == "" {
		return "xledger"
	}
	return r.Prefix
}
