package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hostwatch/hostwatch/model"
)

// channelAttempts bounds local retries per channel before drop-and-log.
const channelAttempts = 2

// Channel delivers one alert event over a notification mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev model.AlertEvent) error
}

// Dispatcher fans an event out to every enabled channel. Channels are
// independent: one channel failing or being slow never affects the others.
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(channels []Channel, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logger}
}

// Dispatch sends the event to all channels concurrently and returns when
// every channel has either succeeded or exhausted its local retries.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.AlertEvent) {
	var wg sync.WaitGroup
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			d.send(ctx, ch, ev)
		}(ch)
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, ev model.AlertEvent) {
	var err error
	for attempt := 1; attempt <= channelAttempts; attempt++ {
		if err = ch.Send(ctx, ev); err == nil {
			return
		}
		if attempt < channelAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
	d.logger.Error("alert channel delivery failed",
		"channel", ch.Name(), "event", ev.ID, "key", ev.Key.String(), "error", err)
}

// ChannelSettings parameterizes channel construction from configuration.
type ChannelSettings struct {
	Enabled      []string // ordered channel identifiers
	SlackWebhook string
	SlackChannel string
	WebhookURL   string
	SMTPAddr     string
	EmailFrom    string
	EmailTo      []string
}

// Channel identifiers accepted in configuration.
const (
	ChannelLog     = "log"
	ChannelSlack   = "slack"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// BuildChannels constructs the enabled channels. An enabled channel missing
// its required settings is a startup error, not a silent no-op.
func BuildChannels(cs ChannelSettings, logger *slog.Logger) ([]Channel, error) {
	var channels []Channel
	for _, name := range cs.Enabled {
		switch name {
		case ChannelLog:
			channels = append(channels, NewLogChannel(logger))
		case ChannelSlack:
			ch, err := NewSlackChannel(cs.SlackWebhook, cs.SlackChannel)
			if err != nil {
				return nil, fmt.Errorf("slack channel: %w", err)
			}
			channels = append(channels, ch)
		case ChannelEmail:
			ch, err := NewEmailChannel(cs.SMTPAddr, cs.EmailFrom, cs.EmailTo)
			if err != nil {
				return nil, fmt.Errorf("email channel: %w", err)
			}
			channels = append(channels, ch)
		case ChannelWebhook:
			ch, err := NewWebhookChannel(cs.WebhookURL)
			if err != nil {
				return nil, fmt.Errorf("webhook channel: %w", err)
			}
			channels = append(channels, ch)
		default:
			return nil, fmt.Errorf("unknown alert channel %q", name)
		}
	}
	return channels, nil
}
