// Package http provides the built-in HTTP request handler, registered as
// "http.request".
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-playground/validator/v10"

	"procflow/runtime"
)

// Config holds the HTTP plugin configuration with declarative tags
type Config struct {
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	Debug       bool          `yaml:"debug" default:"false"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
}

// RequestInput defines the typed input for HTTP requests
type RequestInput struct {
	URL         string            `json:"url" validate:"required,url"`
	Method      string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_parameters"`
	Body        map[string]any    `json:"body"`
}

// RequestOutput defines the typed output for HTTP requests
type RequestOutput struct {
	Status     string         `json:"status"`
	StatusCode int            `json:"status_code"`
	IsError    bool           `json:"is_error"`
	Body       map[string]any `json:"body"`
}

// Plugin implements HTTP request functionality as a task handler plugin.
type Plugin struct {
	Config   Config
	client   *resty.Client
	validate *validator.Validate
}

// Initialize implements the runtime.Lifecycle interface.
func (h *Plugin) Initialize(_ context.Context) error {
	if err := runtime.ApplyDefaults(&h.Config); err != nil {
		return err
	}
	h.client = resty.New().
		SetTimeout(h.Config.Timeout).
		SetRetryCount(h.Config.MaxRetries).
		SetRetryWaitTime(time.Duration(h.Config.RetryWaitMS) * time.Millisecond).
		SetDebug(h.Config.Debug)
	h.validate = validator.New()
	return nil
}

// Request executes an HTTP request. Registered as handler "http.request".
func (h *Plugin) Request(ctx context.Context, rawInput map[string]any) (map[string]any, error) {
	var input RequestInput
	if err := runtime.MapToStruct(rawInput, &input); err != nil {
		return nil, fmt.Errorf("invalid http input: %w", err)
	}
	if err := h.validate.Struct(&input); err != nil {
		return nil, fmt.Errorf("invalid http input: %w", err)
	}

	response := map[string]any{}
	errorResponse := map[string]any{}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeaders(input.Headers).
		SetQueryParams(input.QueryParams).
		SetBody(input.Body).
		SetResult(&response).
		SetError(&errorResponse).
		Execute(input.Method, input.URL)

	if err != nil {
		return nil, runtime.NewTaskError(fmt.Errorf("http request failed: %w", err)).
			WithType("http").
			WithRetryHint(true, "")
	}

	output := RequestOutput{
		Status:     resp.Status(),
		StatusCode: resp.StatusCode(),
		IsError:    resp.IsError(),
	}
	if resp.IsError() {
		output.Body = errorResponse
	} else {
		output.Body = response
	}

	out, err := runtime.StructToMap(output)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Shutdown implements the runtime.Lifecycle interface.
func (h *Plugin) Shutdown(_ context.Context) error {
	h.client = nil
	return nil
}
