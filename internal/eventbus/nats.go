/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/events"
)

const natsSubjectPrefix = "mixroom.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSMirror replicates bus events over NATS core pub/sub. Subject pattern:
// mixroom.events.<event_type>.
type NATSMirror struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	bus    *events.Bus
	local  events.Subscriber
	log    zerolog.Logger
	nodeID string
}

// NewNATSMirror connects to NATS and subscribes to the remote event stream.
func NewNATSMirror(cfg NATSConfig, instanceID string, bus *events.Bus, logger zerolog.Logger) (*NATSMirror, error) {
	log := logger.With().Str("component", "eventbus").Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	m := &NATSMirror{
		nc:     nc,
		bus:    bus,
		local:  bus.SubscribeAll(),
		log:    log,
		nodeID: nodeID(instanceID),
	}

	sub, err := nc.Subscribe(natsSubjectPrefix+">", m.onRemote)
	if err != nil {
		nc.Close()
		return nil, err
	}
	m.sub = sub

	log.Info().Str("url", cfg.URL).Str("node_id", m.nodeID).Msg("nats event mirror connected")
	return m, nil
}

// Run forwards local bus events to NATS. Returns when Close unsubscribes
// the local feed.
func (m *NATSMirror) Run() {
	for tagged := range m.local {
		eventType, payload, ok := localEvent(tagged)
		if !ok {
			continue
		}
		data, err := marshalWire(eventType, payload, m.nodeID)
		if err != nil {
			m.log.Error().Err(err).Msg("marshal mirror message")
			continue
		}
		if err := m.nc.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
			m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("nats publish failed")
		}
	}
}

// onRemote republishes a remote event on the local bus.
func (m *NATSMirror) onRemote(msg *nats.Msg) {
	wire, err := unmarshalWire(msg.Data)
	if err != nil {
		m.log.Error().Err(err).Msg("bad mirror message")
		return
	}
	if wire.NodeID == m.nodeID {
		return
	}
	eventType := events.EventType(strings.TrimPrefix(msg.Subject, natsSubjectPrefix))
	if eventType == "" {
		eventType = wire.EventType
	}

	payload := wire.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload[originKey] = wire.NodeID
	m.bus.Publish(eventType, payload)
}

// Close drains the NATS subscription and stops the forward loop.
func (m *NATSMirror) Close() error {
	if m.sub != nil {
		_ = m.sub.Unsubscribe()
	}
	m.bus.UnsubscribeAll(m.local)
	m.nc.Close()
	return nil
}
