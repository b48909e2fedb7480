/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/events"
)

const redisChannelPrefix = "mixroom:events:"

// RedisConfig contains Redis mirror connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFailures is the publish failure count that trips the breaker.
	MaxFailures int
}

// DefaultRedisConfig returns default Redis mirror configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxFailures:  5,
	}
}

// RedisMirror replicates bus events over Redis pub/sub. Channel pattern:
// mixroom:events:<event_type>. A failure threshold trips a breaker that
// stops remote publishing; local delivery is unaffected either way.
type RedisMirror struct {
	client *redis.Client
	pubsub *redis.PubSub
	bus    *events.Bus
	local  events.Subscriber
	log    zerolog.Logger
	nodeID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	tripped   bool
	failCount int
	maxFails  int
}

// NewRedisMirror connects to Redis and subscribes to the remote event
// channels.
func NewRedisMirror(cfg RedisConfig, instanceID string, bus *events.Bus, logger zerolog.Logger) (*RedisMirror, error) {
	log := logger.With().Str("component", "eventbus").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err := client.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, err
	}

	m := &RedisMirror{
		client:   client,
		pubsub:   client.PSubscribe(ctx, redisChannelPrefix+"*"),
		bus:      bus,
		local:    bus.SubscribeAll(),
		log:      log,
		nodeID:   nodeID(instanceID),
		ctx:      ctx,
		cancel:   cancel,
		maxFails: cfg.MaxFailures,
	}

	m.wg.Add(1)
	go m.receive()

	log.Info().Str("addr", cfg.Addr).Str("node_id", m.nodeID).Msg("redis event mirror connected")
	return m, nil
}

// Run forwards local bus events to Redis. Returns when Close unsubscribes
// the local feed.
func (m *RedisMirror) Run() {
	for tagged := range m.local {
		eventType, payload, ok := localEvent(tagged)
		if !ok {
			continue
		}

		m.mu.Lock()
		tripped := m.tripped
		m.mu.Unlock()
		if tripped {
			continue
		}

		data, err := marshalWire(eventType, payload, m.nodeID)
		if err != nil {
			m.log.Error().Err(err).Msg("marshal mirror message")
			continue
		}

		ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
		err = m.client.Publish(ctx, redisChannelPrefix+string(eventType), data).Err()
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("redis publish failed")
			m.handleFailure()
			continue
		}

		m.mu.Lock()
		m.failCount = 0
		m.mu.Unlock()
	}
}

// receive delivers remote events onto the local bus.
func (m *RedisMirror) receive() {
	defer m.wg.Done()
	ch := m.pubsub.Channel()

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			wire, err := unmarshalWire([]byte(msg.Payload))
			if err != nil {
				m.log.Error().Err(err).Msg("bad mirror message")
				continue
			}
			if wire.NodeID == m.nodeID {
				continue
			}
			eventType := events.EventType(strings.TrimPrefix(msg.Channel, redisChannelPrefix))
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
	}
}

// handleFailure counts publish failures and trips the breaker at the
// threshold.
func (m *RedisMirror) handleFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount++
	if m.failCount >= m.maxFails && !m.tripped {
		m.tripped = true
		m.log.Warn().Int("fail_count", m.failCount).Msg("redis failure threshold reached, mirror publishing disabled")
	}
}

// Close stops the receive loop and the forward loop.
func (m *RedisMirror) Close() error {
	m.cancel()
	_ = m.pubsub.Close()
	m.wg.Wait()
	m.bus.UnsubscribeAll(m.local)
	return m.client.Close()
}
