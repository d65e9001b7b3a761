/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/config"
	"github.com/friendsincode/holdkeeper/internal/events"
)

// Bus is an event bus that may span instances.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// Open builds the bus selected by cfg.EventsBackend. Remote backends degrade
// to in-process delivery when their broker is unreachable.
func Open(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	nodeID := cfg.InstanceID
	switch cfg.EventsBackend {
	case config.EventsRedis:
		redisCfg := DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		return NewRedisBus(redisCfg, nodeID, logger)
	case config.EventsNATS:
		natsCfg := DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		return NewNATSBus(natsCfg, nodeID, logger)
	default:
		return &localBus{Bus: events.NewBus()}, nil
	}
}

// localBus adapts the in-process bus to Bus.
type localBus struct {
	*events.Bus
}

func (l *localBus) Close() error { return nil }
