// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish sends committed register changes to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vestat/pkg/register"
)

// Payload encodings
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Config configures the MQTT publisher.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Encoding string

	ConnectTimeout time.Duration
}

// Message is the payload published for each change.
type Message struct {
	Register  string         `json:"register" cbor:"1,keyasint"`
	Value     register.Value `json:"value" cbor:"2,keyasint"`
	Old       register.Value `json:"old,omitempty" cbor:"3,keyasint,omitempty"`
	Precision int            `json:"precision" cbor:"4,keyasint"`
	Time      int64          `json:"time" cbor:"5,keyasint"`
}

// Encode serializes m with the given encoding.
func Encode(m Message, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingCBOR:
		return cbor.Marshal(m)
	case EncodingJSON, "":
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// tokenPublisher is the part of mqtt.Client used for publishing.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher publishes register changes, one topic per register.
type Publisher struct {
	cfg     Config
	client  tokenPublisher
	log     zerolog.Logger
	pending chan Message
}

// Connect connects to the broker.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Publisher, mqtt.Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)

	log := logger.With().Str("component", "mqtt").Logger()
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("broker connection lost")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("broker connected")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	finished := make(chan struct{})
	go func() {
		token.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if err := token.Error(); err != nil {
			return nil, nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
		}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	return newPublisher(cfg, client, logger), client, nil
}

func newPublisher(cfg Config, client tokenPublisher, logger zerolog.Logger) *Publisher {
	return &Publisher{
		cfg:     cfg,
		client:  client,
		log:     logger.With().Str("component", "mqtt").Logger(),
		pending: make(chan Message, 1024),
	}
}

// Topic returns the topic a register is published on.
func (p *Publisher) Topic(name string) string {
	return strings.TrimSuffix(p.cfg.Topic, "/") + "/" + name
}

// Listener returns a directory listener that queues changes for Run. It
// never blocks; changes are dropped while the queue is full.
func (p *Publisher) Listener() func(name string, newValue, oldValue register.Value, precision int) {
	return func(name string, newValue, oldValue register.Value, precision int) {
		m := Message{
			Register:  name,
			Value:     newValue,
			Old:       oldValue,
			Precision: precision,
			Time:      time.Now().UnixMilli(),
		}
		select {
		case p.pending <- m:
		default:
			p.log.Warn().Str("register", name).Msg("publish queue full, change dropped")
		}
	}
}

// Publish sends one message and waits for the broker to accept it.
func (p *Publisher) Publish(m Message) error {
	payload, err := Encode(m, p.cfg.Encoding)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(m.Register), p.cfg.QoS, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timed out", m.Register)
	}
	return token.Error()
}

// Run publishes queued changes until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.pending:
			if err := p.Publish(m); err != nil {
				p.log.Error().Err(err).Str("register", m.Register).Msg("publish failed")
			}
		}
	}
}
