/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	glob "github.com/vasayxtx/go-glob"

	"github.com/acronis/go-callthrottle/log"
)

// Names of the built-in endpoint classes.
const (
	ClassEthereumRPC = "ethereum_rpc"
	ClassSolanaRPC   = "solana_rpc"
	ClassExternalAPI = "external_api"
)

// DefaultClassConfigs returns the built-in limits of every endpoint class.
func DefaultClassConfigs() map[string]ClassConfig {
	rpc := func(maxRequests, maxConcurrent int) ClassConfig {
		return ClassConfig{Config: Config{
			MaxRequests:   maxRequests,
			Window:        time.Second,
			MaxConcurrent: maxConcurrent,
			Backoff:       BackoffConfig{Initial: DefaultInitialBackoff, Multiplier: 2, Max: 30 * time.Second},
		}}
	}
	return map[string]ClassConfig{
		ClassEthereumRPC: rpc(8, 4),
		ClassSolanaRPC:   rpc(12, 6),
		ClassExternalAPI: {Config: Config{
			MaxRequests:   5,
			Window:        time.Second,
			MaxConcurrent: 3,
			Backoff:       BackoffConfig{Initial: DefaultInitialBackoff, Multiplier: 3, Max: time.Minute},
			MaxRetries:    8,
		}},
	}
}

// ClassConfig is the configuration of one named instance.
type ClassConfig struct {
	Config `mapstructure:",squash" yaml:",inline"`

	// Hosts lists host name globs ("*.infura.io") routed to this class by Registry.Route.
	Hosts []string `mapstructure:"hosts" yaml:"hosts,omitempty" json:"hosts,omitempty"`
}

// RegistryOpts represents options for a Registry.
type RegistryOpts struct {
	Logger  log.FieldLogger
	Metrics *PrometheusMetrics
	Clock   clockwork.Clock
}

type hostRoute struct {
	pattern string
	match   func(string) bool
	class   string
}

// Registry holds independent instances, one per endpoint class.
// It is immutable after creation and safe for concurrent use.
type Registry struct {
	instances map[string]*Instance
	names     []string
	routes    []hostRoute
}

// NewDefaultRegistry creates a Registry with the built-in classes.
func NewDefaultRegistry(opts RegistryOpts) (*Registry, error) {
	return NewRegistry(DefaultClassConfigs(), opts)
}

// NewRegistry creates an instance for every class config.
func NewRegistry(classes map[string]ClassConfig, opts RegistryOpts) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	r := &Registry{instances: make(map[string]*Instance, len(classes))}
	for name := range classes {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	for _, name := range r.names {
		classCfg := classes[name]
		instOpts := Opts{Logger: opts.Logger, Clock: opts.Clock}
		if opts.Metrics != nil {
			instOpts.Metrics, instOpts.CacheMetrics = opts.Metrics.ForInstance(name)
		}
		inst, err := NewWithOpts(name, classCfg.Config, instOpts)
		if err != nil {
			return nil, err
		}
		r.instances[name] = inst
		for _, pattern := range classCfg.Hosts {
			r.routes = append(r.routes, hostRoute{pattern: pattern, match: glob.Compile(pattern), class: name})
		}
	}
	return r, nil
}

// Get returns the instance of the named class.
func (r *Registry) Get(class string) (*Instance, bool) {
	inst, ok := r.instances[class]
	return inst, ok
}

// MustGet returns the instance of the named class and panics if there is none.
func (r *Registry) MustGet(class string) *Instance {
	inst, ok := r.instances[class]
	if !ok {
		panic(fmt.Sprintf("throttle: unknown class %q", class))
	}
	return inst
}

// Names returns the sorted class names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Route returns the instance whose host globs match host. Classes are tried in name order,
// globs in the order they are configured.
func (r *Registry) Route(host string) (*Instance, bool) {
	for _, route := range r.routes {
		if route.match(host) {
			return r.instances[route.class], true
		}
	}
	return nil, false
}

// Stats returns snapshots of all instances in name order.
func (r *Registry) Stats() []Stats {
	stats := make([]Stats, 0, len(r.names))
	for _, name := range r.names {
		stats = append(stats, r.instances[name].Stats())
	}
	return stats
}

// ClearAll clears the queues of all instances and returns the number of dropped calls.
func (r *Registry) ClearAll() int {
	total := 0
	for _, name := range r.names {
		total += r.instances[name].Clear()
	}
	return total
}

// ExecuteEthereumRPC runs fn through the ethereum_rpc instance of r.
func ExecuteEthereumRPC[T any](ctx context.Context, r *Registry, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Execute(ctx, r.MustGet(ClassEthereumRPC), key, fn)
}

// ExecuteSolanaRPC runs fn through the solana_rpc instance of r.
func ExecuteSolanaRPC[T any](ctx context.Context, r *Registry, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Execute(ctx, r.MustGet(ClassSolanaRPC), key, fn)
}

// ExecuteExternalAPI runs fn through the external_api instance of r.
func ExecuteExternalAPI[T any](ctx context.Context, r *Registry, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Execute(ctx, r.MustGet(ClassExternalAPI), key, fn)
}
