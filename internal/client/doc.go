// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

/*
Package client is the receiving side of the realtime protocol.

A Manager owns one websocket connection and moves through the states

	Disconnected -> Connecting -> Connected
	                    ^             |
	                    |             v
	                    +------- Reconnecting -> Fallback

Failed attempts are retried on the Policy's jittered exponential schedule.
Once the attempts are exhausted, or the server rejects the credentials
repeatedly, the manager parks in Fallback until Retry or SetToken.

Inbound events flow through a Pipeline: the Deduplicator drops events whose
idempotency key was already applied, and the Batcher coalesces the rest into
bounded, per-category batches handed to application state.

	dedup := client.NewDeduplicator(client.DefaultDedupCapacity)
	batcher := client.NewBatcher(client.DefaultBatcherConfig(), apply)
	pipeline := client.NewPipeline(dedup, batcher)

	m := client.NewManager(cfg, client.Callbacks{
		OnMessage:     func(msg protocol.Message) { pipeline.Handle(msg) },
		OnStateChange: fallback.Observe,
	})
	m.Connect()
*/
package client
