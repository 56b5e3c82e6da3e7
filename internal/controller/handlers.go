package controller

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/eventbus"
	"github.com/dokzlo13/towerd/internal/lamp"
	"github.com/dokzlo13/towerd/internal/protocol"
	"github.com/dokzlo13/towerd/internal/settings"
)

type sensorsBody struct {
	Ambient int `json:"ambient"`
}

type ledsBody struct {
	Green  bool `json:"green"`
	Yellow bool `json:"yellow"`
	Red    bool `json:"red"`
	Muted  bool `json:"muted"`
}

// reset acknowledges; Serve reinitializes once the response is out.
func (c *Controller) reset(protocol.Request) (protocol.Response, error) {
	return protocol.Empty(http.StatusOK), nil
}

func (c *Controller) getSensors(protocol.Request) (protocol.Response, error) {
	return protocol.JSON(http.StatusOK, sensorsBody{Ambient: c.monitor.Ambient()})
}

func (c *Controller) getLeds(protocol.Request) (protocol.Response, error) {
	return protocol.JSON(http.StatusOK, ledsBody{
		Green:  c.lamps.Green,
		Yellow: c.lamps.Yellow,
		Red:    c.lamps.Red,
		Muted:  c.lamps.Mute,
	})
}

// putLeds overwrites the lamp intents named in the body. Nothing changes unless the
// whole body is valid.
func (c *Controller) putLeds(req protocol.Request) (protocol.Response, error) {
	fields, err := decodeObject(req.Body)
	if err != nil {
		return protocol.Response{}, err
	}

	var update lamp.Update
	for key, target := range map[string]**bool{
		"green":  &update.Green,
		"red":    &update.Red,
		"yellow": &update.Yellow,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return protocol.Response{}, fmt.Errorf("%w: %s: %v", ErrMalformedBody, key, err)
		}
		*target = &v
	}

	c.lamps.Apply(update)
	c.pushOutputs()
	c.publishLeds()
	return protocol.Empty(http.StatusNoContent), nil
}

func (c *Controller) getSettings(protocol.Request) (protocol.Response, error) {
	return protocol.JSON(http.StatusOK, c.settings.Current())
}

// putSettings clamps and persists the settings named in the body, each written through
// on its own. Nothing changes unless the whole body is valid.
func (c *Controller) putSettings(req protocol.Request) (protocol.Response, error) {
	fields, err := decodeObject(req.Body)
	if err != nil {
		return protocol.Response{}, err
	}

	threshold, hasThreshold, err := numberField(fields, "threshold")
	if err != nil {
		return protocol.Response{}, err
	}
	hysteresis, hasHysteresis, err := numberField(fields, "hysteresis")
	if err != nil {
		return protocol.Response{}, err
	}

	if hasThreshold {
		if err := c.settings.PersistThreshold(settings.Clamp(threshold)); err != nil {
			log.Error().Err(err).Msg("Failed to persist threshold")
		}
	}
	if hasHysteresis {
		if err := c.settings.PersistHysteresis(settings.Clamp(hysteresis)); err != nil {
			log.Error().Err(err).Msg("Failed to persist hysteresis")
		}
	}

	values := c.settings.Current()
	c.pub.Publish(eventbus.Event{
		Type: eventbus.EventTypeSettings,
		Data: map[string]any{
			"threshold":  values.Threshold,
			"hysteresis": values.Hysteresis,
		},
	})
	return protocol.Empty(http.StatusNoContent), nil
}

// decodeObject parses body as a JSON object.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedBody)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedBody)
	}
	return fields, nil
}

// numberField reads an optional numeric field.
func numberField(fields map[string]json.RawMessage, key string) (float64, bool, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, false, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrMalformedBody, key, err)
	}
	return v, true, nil
}
