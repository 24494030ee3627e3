// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package server implements the host side of the runtime: the façade
// handed to plugin contexts and the fan-out delivering host-wide
// broadcasts to connected consumers.
package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cindermc/cinder/pkg/event"
	sdk "github.com/cindermc/cinder/pkg/plugin"
)

var _ sdk.Host = (*Server)(nil)

// Server is the host plugins talk to. Every broadcast passes through
// the event bus first, so blocking handlers of BroadcastEvent can
// rewrite or cancel a message before any consumer sees it.
type Server struct {
	name    string
	version string
	bus     *event.Bus
	log     *slog.Logger

	mu   sync.RWMutex
	subs []chan string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a host façade publishing broadcasts on bus.
func New(name, version string, bus *event.Bus, opts ...Option) *Server {
	s := &Server{
		name:    name,
		version: version,
		bus:     bus,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the host application.
func (s *Server) Name() string { return s.name }

// Version is the host build version.
func (s *Server) Version() string { return s.version }

// Broadcast sends message to every subscriber. Blocking handlers of
// BroadcastEvent run first and may rewrite the message; a cancelled
// event is dropped without error.
func (s *Server) Broadcast(ctx context.Context, message string) error {
	ev := event.Publish(ctx, s.bus, sdk.BroadcastEvent{Message: message})
	if ev.IsCancelled() {
		s.log.Debug("broadcast cancelled by handler", "message", message)
		return nil
	}
	s.deliver(ev.Message)
	return nil
}

// Subscribe creates a channel that receives future broadcasts.
func (s *Server) Subscribe() chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, 100)
	s.subs = append(s.subs, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (s *Server) Unsubscribe(ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// deliver fans the final message out to subscribers. Sends never
// block; a subscriber that stopped draining its channel misses
// messages instead of stalling every plugin behind it.
func (s *Server) deliver(message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- message:
		default:
			s.log.Warn("broadcast dropped: subscriber buffer full")
		}
	}
}
