// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package ingest moves domain events from producers to the realtime hub
// over core NATS, using watermill-nats for both sides of the subject.
//
// Producers call Publisher.Publish; each realtime node runs a Subscriber
// that decodes the events and hands them to a Sink (the hub). An
// EmbeddedServer can stand in for an external broker on a single node.
package ingest

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
)

// Config holds the NATS connection settings shared by Subscriber and
// Publisher.
type Config struct {
	URL     string
	Subject string

	// QueueGroup load-balances the subject across subscribers with the
	// same group. Nodes that each need every event use distinct groups.
	QueueGroup  string
	Subscribers int

	AckWaitTimeout time.Duration
	CloseTimeout   time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// DefaultConfig returns settings for a local broker.
func DefaultConfig() Config {
	return Config{
		URL:            natsgo.DefaultURL,
		Subject:        "questline.events",
		QueueGroup:     "questline-realtime",
		Subscribers:    1,
		AckWaitTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.QueueGroup == "" {
		c.QueueGroup = d.QueueGroup
	}
	if c.Subscribers <= 0 {
		c.Subscribers = d.Subscribers
	}
	if c.AckWaitTimeout <= 0 {
		c.AckWaitTimeout = d.AckWaitTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = d.MaxReconnects
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = d.ReconnectWait
	}
	return c
}

func natsOptions(c Config, role string, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("questline-" + role),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(c.MaxReconnects),
		natsgo.ReconnectWait(c.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, watermill.LogFields{"role": role})
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"role": role,
				"url":  nc.ConnectedUrl(),
			})
		}),
	}
}
