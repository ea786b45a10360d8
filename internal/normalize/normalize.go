package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"riskpulse/internal/model"
)

type Defaults struct {
	SessionID string
	Now       time.Time
}

// Signal fills missing envelope fields and rejects malformed events. Metric
// values are never invented: absent metrics stay absent and non-finite
// readings are dropped as unobserved.
func Signal(ev model.SignalEvent, def Defaults) (model.SignalEvent, error) {
	ev.SessionID = strings.TrimSpace(ev.SessionID)
	if ev.SessionID == "" {
		ev.SessionID = def.SessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = def.Now
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	ev.Channel = model.Channel(strings.ToLower(strings.TrimSpace(string(ev.Channel))))
	switch ev.Channel {
	case "":
		ev.Channel = model.ChannelMixed
	case model.ChannelVoice, model.ChannelText, model.ChannelMixed:
	default:
		return model.SignalEvent{}, fmt.Errorf("unsupported channel %q", ev.Channel)
	}

	ev.Window.Type = model.WindowType(strings.ToLower(string(ev.Window.Type)))
	switch ev.Window.Type {
	case "":
		ev.Window.Type = model.WindowRolling
	case model.WindowRolling, model.WindowFixed:
	default:
		return model.SignalEvent{}, fmt.Errorf("unsupported window type %q", ev.Window.Type)
	}
	if ev.Window.DurationSeconds < 0 {
		return model.SignalEvent{}, errors.New("window duration must not be negative")
	}

	ev.Signals.Voice = cleanGroup(ev.Signals.Voice)
	ev.Signals.Linguistic = cleanGroup(ev.Signals.Linguistic)
	ev.Signals.Interaction = cleanGroup(ev.Signals.Interaction)
	ev.Signals.Temporal = cleanGroup(ev.Signals.Temporal)
	return ev, nil
}

func cleanGroup(g model.MetricGroup) model.MetricGroup {
	out := make(model.MetricGroup, len(g))
	for k, v := range g {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
