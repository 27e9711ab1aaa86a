// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package services

import (
	"context"
)

// ContextHub is satisfied by *websocket.Hub.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the realtime hub. On shutdown the hub notifies and closes
// every connection before RunWithContext returns.
type HubService struct {
	hub  ContextHub
	name string
}

func NewHubService(hub ContextHub) *HubService {
	return &HubService{
		hub:  hub,
		name: "realtime-hub",
	}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string {
	return s.name
}
