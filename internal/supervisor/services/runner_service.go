// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package services

import "context"

// Runner is a component that blocks until its context is canceled.
// Satisfied by *audit.RetentionService and *alerting.Dispatcher (the sink
// worker).
type Runner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService names a Runner for the supervisor.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps runner under name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewRetentionService supervises the activity retention sweep.
func NewRetentionService(runner Runner) *RunnerService {
	return NewRunnerService("activity-retention", runner)
}

// NewSinkWorkerService supervises notification sink delivery.
func NewSinkWorkerService(runner Runner) *RunnerService {
	return NewRunnerService("notification-sinks", runner)
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *RunnerService) String() string {
	return s.name
}
