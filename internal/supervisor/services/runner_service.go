// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package services

import (
	"context"
)

// RunFunc is a blocking loop that returns when ctx is canceled.
//
// Satisfied by method values such as:
//   - (*websocket.Hub).RunWithContext
//   - (*notify.Router).Run
//   - (*websocket.Bridge).Run
//   - (*eventbus.LoginConsumer).Run
type RunFunc func(ctx context.Context) error

// RunnerService wraps a RunFunc as a supervised service.
//
//	svc := services.NewRunnerService("alert-router", router.Run)
//	tree.Add(supervisor.LayerMessaging, svc)
type RunnerService struct {
	run  RunFunc
	name string
}

// NewRunnerService creates a named runner service.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{run: run, name: name}
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	return r.run(ctx)
}

// String implements fmt.Stringer for suture logs.
func (r *RunnerService) String() string {
	return r.name
}
