// Package bridge exposes named pulse channels over MQTT.
//
// Commands are published to cmd/<name>/<action> with a JSON payload:
//
//	cmd/<name>/setup     binds the channel to its configured pin
//	cmd/<name>/task      {"dir":false,"toggles":4,"setup_ns":12500,"hold_ns":12500,"delay_ns":0}
//	cmd/<name>/pwm       {"frequency_hz":1000,"duty":2500,"toggles":0}
//	cmd/<name>/abort     {"phase":"setup"|"hold"|"now"}
//	cmd/<name>/position  {"position":0}
//	cmd/abort_all
//
// Channel status is published to status/<name>, failed commands to error.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"pulsgen/core"
	"pulsgen/host/config"
	"pulsgen/host/mcu"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidPhase   = errors.New("invalid abort phase")
)

// Device is the co-processor driven by the bridge. *mcu.MCU implements it.
type Device interface {
	SetupPin(ch, port, pin uint32, inverted bool) error
	AddTask(ch uint32, t core.Task) error
	AddPWMTask(ch, frequencyHz, duty, toggles uint32) error
	Abort(ch uint32, phase core.AbortPhase) error
	AbortAll() error
	SetPosition(ch uint32, pos int32) error
	Status(ch uint32) (mcu.ChannelStatus, error)
}

// TaskRequest is the payload of cmd/<name>/task
type TaskRequest struct {
	Dir     bool   `json:"dir"`
	Toggles uint32 `json:"toggles"`
	SetupNs uint32 `json:"setup_ns"`
	HoldNs  uint32 `json:"hold_ns"`
	DelayNs uint32 `json:"delay_ns"`
}

// PWMRequest is the payload of cmd/<name>/pwm
type PWMRequest struct {
	FrequencyHz uint32 `json:"frequency_hz"`
	Duty        uint32 `json:"duty"`
	Toggles     uint32 `json:"toggles"`
}

// AbortRequest is the payload of cmd/<name>/abort
type AbortRequest struct {
	Phase string `json:"phase"`
}

// PositionRequest is the payload of cmd/<name>/position
type PositionRequest struct {
	Position int32 `json:"position"`
}

// ErrorReport is published to the error topic
type ErrorReport struct {
	Topic string `json:"topic"`
	Error string `json:"error"`
}

// Bridge maps MQTT topics to control operations
type Bridge struct {
	broker   Broker
	device   Device
	channels map[string]config.ChannelConfig
	names    []string // Publish order
}

// New creates a bridge for the named channels
func New(broker Broker, device Device, channels []config.ChannelConfig) *Bridge {
	b := &Bridge{
		broker:   broker,
		device:   device,
		channels: make(map[string]config.ChannelConfig, len(channels)),
	}
	for _, ch := range channels {
		b.channels[ch.Name] = ch
		b.names = append(b.names, ch.Name)
	}
	return b
}

// Start subscribes to the command topics
func (b *Bridge) Start() error {
	return b.broker.Subscribe("cmd/#", b.Handle)
}

// Handle runs the command published on topic. Failures are published to
// the error topic.
func (b *Bridge) Handle(topic string, payload []byte) {
	if err := b.handle(topic, payload); err != nil {
		glog.Warningf("bridge %s: %v", topic, err)
		report, _ := json.Marshal(ErrorReport{Topic: topic, Error: err.Error()})
		if err := b.broker.Publish("error", report); err != nil {
			glog.Errorf("publish error report: %v", err)
		}
	}
}

func (b *Bridge) handle(topic string, payload []byte) error {
	parts := strings.Split(strings.TrimPrefix(topic, "cmd/"), "/")
	if len(parts) == 1 && parts[0] == "abort_all" {
		return b.device.AbortAll()
	}
	if len(parts) != 2 {
		return fmt.Errorf("%w: %s", ErrUnknownAction, topic)
	}

	ch, ok := b.channels[parts[0]]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, parts[0])
	}

	switch parts[1] {
	case "setup":
		return b.device.SetupPin(ch.Channel, ch.Port, ch.Pin, ch.Inverted)

	case "task":
		var req TaskRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		return b.device.AddTask(ch.Channel, core.Task{
			Dir:     req.Dir,
			Toggles: req.Toggles,
			SetupNs: req.SetupNs,
			HoldNs:  req.HoldNs,
			DelayNs: req.DelayNs,
		})

	case "pwm":
		var req PWMRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		return b.device.AddPWMTask(ch.Channel, req.FrequencyHz, req.Duty, req.Toggles)

	case "abort":
		req := AbortRequest{Phase: "now"}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return err
			}
		}
		phase, err := ParsePhase(req.Phase)
		if err != nil {
			return err
		}
		return b.device.Abort(ch.Channel, phase)

	case "position":
		var req PositionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		return b.device.SetPosition(ch.Channel, req.Position)
	}
	return fmt.Errorf("%w: %s", ErrUnknownAction, parts[1])
}

// ParsePhase converts an abort phase name
func ParsePhase(s string) (core.AbortPhase, error) {
	switch s {
	case "setup":
		return core.AbortOnSetup, nil
	case "hold":
		return core.AbortOnHold, nil
	case "now", "":
		return core.AbortNow, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPhase, s)
}

// PublishStatus publishes the status of every channel
func (b *Bridge) PublishStatus() error {
	for _, name := range b.names {
		st, err := b.device.Status(b.channels[name].Channel)
		if err != nil {
			return fmt.Errorf("status %s: %w", name, err)
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if err := b.broker.Publish("status/"+name, data); err != nil {
			return err
		}
	}
	return nil
}

// Run publishes the channel status every interval until ctx is done
func (b *Bridge) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.PublishStatus(); err != nil {
				glog.Warningf("bridge: %v", err)
			}
		}
	}
}
