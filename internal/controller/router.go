package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/eventbus"
	"github.com/dokzlo13/towerd/internal/protocol"
)

// Error kinds mapped to protocol status codes.
var (
	ErrMalformedBody = errors.New("malformed body")
	ErrRouteNotFound = errors.New("route not found")
)

type handlerFunc func(c *Controller, req protocol.Request) (protocol.Response, error)

// route matches requests whose path starts with prefix.
// A nil method matches any method; reinit routes reinitialize the controller after
// their response is written.
type route struct {
	name   string
	prefix string
	method *protocol.Method
	handle handlerFunc
	reinit bool
}

var (
	get = protocol.MethodGet
	put = protocol.MethodPut
)

// routes in priority order
var routes = []route{
	{name: "reset", prefix: "/reset", handle: (*Controller).reset, reinit: true},
	{name: "get-sensors", prefix: "/sensors", method: &get, handle: (*Controller).getSensors},
	{name: "get-leds", prefix: "/leds", method: &get, handle: (*Controller).getLeds},
	{name: "put-leds", prefix: "/leds", method: &put, handle: (*Controller).putLeds},
	{name: "get-settings", prefix: "/settings", method: &get, handle: (*Controller).getSettings},
	{name: "put-settings", prefix: "/settings", method: &put, handle: (*Controller).putSettings},
}

// match returns the first route accepting method and path.
func match(method protocol.Method, path string) (*route, error) {
	for i := range routes {
		r := &routes[i]
		if !strings.HasPrefix(path, r.prefix) {
			continue
		}
		if r.method != nil && *r.method != method {
			continue
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrRouteNotFound, method, path)
}

// Route returns the name of the handler serving method and path.
func Route(method protocol.Method, path string) (string, error) {
	r, err := match(method, path)
	if err != nil {
		return "", err
	}
	return r.name, nil
}

// Serve dispatches a completed request, writes the response to w and runs any
// post-response action (reinitialization for /reset). It returns the status sent.
func (c *Controller) Serve(ctx context.Context, w io.Writer, req protocol.Request) (int, error) {
	start := time.Now()
	requestID := uuid.NewString()

	name := "not-found"
	resp := protocol.Empty(http.StatusNotFound)

	r, err := match(req.Method, req.Path)
	if err == nil {
		name = r.name
		resp, err = r.handle(c, req)
	}
	resp = responseFor(resp, err)

	logger := log.With().
		Str("request_id", requestID).
		Str("method", req.Method.String()).
		Str("path", req.Path).
		Str("route", name).
		Int("status", resp.Status).
		Logger()
	if err != nil {
		logger.Debug().Err(err).Msg("Request rejected")
	}

	if _, werr := resp.WriteTo(w); werr != nil {
		return resp.Status, fmt.Errorf("failed to write response: %w", werr)
	}

	logger.Debug().Dur("duration", time.Since(start)).Msg("Request served")
	c.pub.Publish(eventbus.Event{
		Type: eventbus.EventTypeRequest,
		Data: map[string]any{
			"request_id": requestID,
			"method":     req.Method.String(),
			"path":       req.Path,
			"route":      name,
			"status":     resp.Status,
		},
	})

	if r != nil && r.reinit && resp.Status == http.StatusOK {
		if err := c.Reinitialize(ctx); err != nil {
			return resp.Status, err
		}
	}
	return resp.Status, nil
}

// Reject answers a request that could not be parsed.
func (c *Controller) Reject(w io.Writer, cause error) error {
	log.Warn().Err(cause).Msg("Dropping unparsable request")
	if _, err := protocol.Empty(http.StatusBadRequest).WriteTo(w); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// responseFor maps handler errors to their status codes.
func responseFor(resp protocol.Response, err error) protocol.Response {
	switch {
	case err == nil:
		return resp
	case errors.Is(err, ErrMalformedBody):
		return protocol.Empty(http.StatusBadRequest)
	case errors.Is(err, ErrRouteNotFound):
		return protocol.Empty(http.StatusNotFound)
	default:
		return protocol.Empty(http.StatusInternalServerError)
	}
}
