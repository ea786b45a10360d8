package ingest

import (
	"bytes"
	"encoding/json"
	"errors"

	"riskpulse/internal/model"
)

// ParseSignals decodes a single SignalEvent object or an array of them.
func ParseSignals(data []byte) ([]model.SignalEvent, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errors.New("empty payload")
	}
	if trim[0] == '[' {
		var list []model.SignalEvent
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var ev model.SignalEvent
	if err := json.Unmarshal(trim, &ev); err != nil {
		return nil, err
	}
	return []model.SignalEvent{ev}, nil
}
