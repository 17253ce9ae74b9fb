// Copyright 2025 The go-twinvault Authors
// This file is part of the go-twinvault library.
//
// The go-twinvault library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-twinvault library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-twinvault library. If not, see <http://www.gnu.org/licenses/>.

// Package exporter streams applied commands to Kafka for offline audit.
package exporter

import (
	"encoding/json"
	"sync"

	"github.com/Shopify/sarama"
	log "github.com/inconshreveable/log15"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/event"
)

const feedBuffer = 256

var (
	publishMeter     = metrics.GetOrRegisterMeter("exporter/published", metrics.DefaultRegistry)
	publishFailMeter = metrics.GetOrRegisterMeter("exporter/failures", metrics.DefaultRegistry)
)

// Config selects the brokers and topic. An empty broker list disables the
// exporter at the node level.
type Config struct {
	Brokers []string
	Topic   string
}

// Exporter publishes every applied command as one JSON message, keyed by
// card number so per-card order survives partitioning. A slow or dead broker
// never backpressures the write path: the applied feed drops rather than
// blocks and sarama buffers internally.
type Exporter struct {
	log      log.Logger
	exec     *core.Executor
	producer sarama.AsyncProducer
	topic    string

	ch       chan *types.Command
	sub      event.Subscription
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New connects an async producer to the configured brokers.
func New(cfg Config, exec *core.Executor) (*Exporter, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Errors = true
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return newWithProducer(producer, cfg.Topic, exec), nil
}

func newWithProducer(producer sarama.AsyncProducer, topic string, exec *core.Executor) *Exporter {
	return &Exporter{
		log:      log.New("module", "exporter"),
		exec:     exec,
		producer: producer,
		topic:    topic,
		ch:       make(chan *types.Command, feedBuffer),
		quit:     make(chan struct{}),
	}
}

// Start subscribes to the applied-command feed and launches the publish
// loop.
func (e *Exporter) Start() {
	e.sub = e.exec.SubscribeApplied(e.ch)
	e.wg.Add(1)
	go e.loop()
	e.log.Info("Audit exporter started", "topic", e.topic)
}

func (e *Exporter) loop() {
	defer e.wg.Done()
	for {
		select {
		case cmd := <-e.ch:
			e.publish(cmd)
		case err := <-e.producer.Errors():
			publishFailMeter.Mark(1)
			e.log.Warn("Audit publish failed", "err", err)
		case <-e.quit:
			for {
				select {
				case cmd := <-e.ch:
					e.publish(cmd)
				default:
					return
				}
			}
		}
	}
}

func (e *Exporter) publish(cmd *types.Command) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		e.log.Error("Audit encode failed", "kind", cmd.Kind, "err", err)
		return
	}
	e.producer.Input() <- &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(cmd.CardNumber),
		Value: sarama.ByteEncoder(payload),
	}
	publishMeter.Mark(1)
}

// Stop drains the feed buffer and flushes the producer. Safe to call twice.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		if e.sub != nil {
			e.sub.Unsubscribe()
		}
		close(e.quit)
		e.wg.Wait()
		if err := e.producer.Close(); err != nil {
			e.log.Warn("Producer close failed", "err", err)
		}
		e.log.Info("Audit exporter stopped")
	})
}
