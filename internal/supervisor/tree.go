// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Layer selects the child supervisor a service runs under. Failures are
// contained per layer: a crashing bus consumer restarts inside the messaging
// layer without touching the HTTP server.
type Layer int

const (
	// LayerData runs Badger GC and state maintenance sweeps.
	LayerData Layer = iota
	// LayerMessaging runs the dashboard hub, alert router and bus services.
	LayerMessaging
	// LayerAPI runs the HTTP server.
	LayerAPI

	layerCount
)

var layerNames = [layerCount]string{"data-layer", "messaging-layer", "api-layer"}

func (l Layer) String() string {
	if l < 0 || l >= layerCount {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64
	// FailureBackoff is the duration to wait when threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	def := DefaultTreeConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = def.FailureDecay
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = def.FailureBackoff
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

func (c TreeConfig) spec() suture.Spec {
	return suture.Spec{
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// ServiceInfo names one supervised service.
type ServiceInfo struct {
	Layer Layer
	Name  string
}

// SupervisorTree is the CampusGuard process tree: a root supervisor with one
// child per Layer.
type SupervisorTree struct {
	root   *suture.Supervisor
	layers [layerCount]*suture.Supervisor
	config TreeConfig

	mu       sync.Mutex
	services []ServiceInfo
}

// NewSupervisorTree creates a new supervisor tree. Zero config fields take
// the DefaultTreeConfig values.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	if logger == nil {
		return nil, errors.New("supervisor: logger is required")
	}
	config = config.withDefaults()

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := config.spec()
	rootSpec.EventHook = handler.MustHook()

	t := &SupervisorTree{
		root:   suture.New("campusguard", rootSpec),
		config: config,
	}
	// Children inherit the EventHook when added to the root.
	for l := range layerCount {
		t.layers[l] = suture.New(layerNames[l], config.spec())
		t.root.Add(t.layers[l])
	}
	return t, nil
}

// Add supervises svc under layer. Services added after the tree started are
// started immediately.
func (t *SupervisorTree) Add(layer Layer, svc suture.Service) suture.ServiceToken {
	if layer < 0 || layer >= layerCount {
		panic(fmt.Sprintf("supervisor: unknown %s", layer))
	}
	t.mu.Lock()
	t.services = append(t.services, ServiceInfo{Layer: layer, Name: fmt.Sprint(svc)})
	t.mu.Unlock()
	return t.layers[layer].Add(svc)
}

// Services lists every supervised service in the order it was added.
func (t *SupervisorTree) Services() []ServiceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ServiceInfo, len(t.services))
	copy(out, t.services)
	return out
}

// Serve starts the tree and blocks until ctx is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a goroutine. The returned channel
// receives the result when the tree stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
