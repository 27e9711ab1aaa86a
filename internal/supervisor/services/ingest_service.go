// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package services

import (
	"context"
	"fmt"
)

// IngestRunner is satisfied by *ingest.Subscriber.
type IngestRunner interface {
	Serve(ctx context.Context) error
}

// IngestService runs the NATS ingest subscriber. Each restart subscribes
// again on the subscriber's existing connection; the owner closes the
// subscriber once the tree has stopped.
type IngestService struct {
	runner IngestRunner
	name   string
}

func NewIngestService(runner IngestRunner) *IngestService {
	return &IngestService{
		runner: runner,
		name:   "nats-ingest",
	}
}

// Serve implements suture.Service. Errors other than ctx's own are
// returned wrapped so that suture restarts the subscription.
func (s *IngestService) Serve(ctx context.Context) error {
	err := s.runner.Serve(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("ingest subscriber stopped: %w", err)
	}
	return nil
}

func (s *IngestService) String() string {
	return s.name
}
