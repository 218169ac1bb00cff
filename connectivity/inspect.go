package connectivity

import (
	"iter"
	"sort"
)

// ServiceInfo describes how a service is currently routed.
type ServiceInfo struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Endpoint string `json:"endpoint,omitempty"`
	HasLocal bool   `json:"has_local"`
	Breaker  string `json:"breaker,omitempty"`
	Error    string `json:"error,omitempty"` // why the remote transport is not built
}

// ListServices yields every routed or locally registered service, sorted
// by name.
func (r *Router) ListServices() iter.Seq[ServiceInfo] {
	r.mu.RLock()
	names := make([]string, 0, len(r.routes)+len(r.locals))
	for name := range r.routes {
		names = append(names, name)
	}
	for name := range r.locals {
		if _, ok := r.routes[name]; !ok {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)

	return func(yield func(ServiceInfo) bool) {
		for _, name := range names {
			info, ok := r.Inspect(name)
			if ok && !yield(info) {
				return
			}
		}
	}
}

// Inspect describes one service. ok is false when the router knows
// nothing about it.
func (r *Router) Inspect(service string) (info ServiceInfo, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, routed := r.routes[service]
	_, hasLocal := r.locals[service]
	if !routed && !hasLocal {
		return ServiceInfo{}, false
	}
	info = ServiceInfo{Name: service, Strategy: "local", HasLocal: hasLocal}
	if !routed {
		return info, true
	}
	info.Strategy = rt.Strategy
	info.Endpoint = rt.Endpoint
	if rem, ok := r.remotes[service]; ok && rem.breaker != nil {
		info.Breaker = rem.breaker.State().String()
	}
	if err, ok := r.broken[service]; ok {
		info.Error = err.Error()
	}
	return info, true
}
