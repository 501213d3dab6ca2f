package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/teemow/inboxevents/internal/instrumentation"
	"github.com/teemow/inboxevents/internal/logging"
	"github.com/teemow/inboxevents/internal/retry"
)

var (
	// ErrNoContent is returned when a completion carries neither message
	// content nor tool-call arguments.
	ErrNoContent = errors.New("model returned no content")

	// ErrMalformed is returned when the model output is not a JSON object.
	ErrMalformed = errors.New("model returned malformed JSON")
)

const (
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "gpt-4o-mini"

	// DefaultRequestTimeout bounds each completion request.
	DefaultRequestTimeout = 30 * time.Second

	schemaName = "event"
)

const systemPrompt = `You extract a single event from an email.
Return one JSON object that matches the provided JSON Schema and nothing else.
Use null for anything the email does not state. Do not invent dates or places.
Interpret dates without an explicit offset in the timezone given by the user
and write them as ISO-8601 with that offset.`

// Options configures an Extractor.
type Options struct {
	Model    string
	BaseURL  string
	Timezone string

	// RequestTimeout bounds each completion request (default: 30s).
	RequestTimeout time.Duration

	// Retry controls attempts and backoff. Retryable is always replaced with IsTransient.
	Retry retry.Policy

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Cache is optional.
	Cache Cache

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Extractor turns email text into a raw event payload with a
// schema-constrained chat completion.
type Extractor struct {
	client   openai.Client
	model    string
	timezone string
	timeout  time.Duration
	policy   retry.Policy
	cache    Cache
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// New creates an Extractor. The API key is supplied per call.
func New(opts Options) *Extractor {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}

	// retries are owned by the policy below
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	e := &Extractor{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		timezone: tz,
		timeout:  timeout,
		policy:   opts.Retry,
		cache:    opts.Cache,
		metrics:  metrics,
		logger:   logging.WithService(logger, instrumentation.ServiceOpenAI),
	}
	e.policy.Retryable = IsTransient
	return e
}

// Model returns the configured model name.
func (e *Extractor) Model() string {
	return e.model
}

// Extract asks the model for the event described by text. The returned map
// always carries email_id set to messageID, whatever the model answered.
func (e *Extractor) Extract(ctx context.Context, apiKey, text, messageID string) (map[string]any, error) {
	key := CacheKey(e.model, e.timezone, messageID, text)
	if payload, ok := e.cached(ctx, key, messageID); ok {
		return payload, nil
	}

	policy := e.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.logger.Warn("extraction failed, retrying",
			logging.MessageID(messageID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			logging.Err(err))
	}

	payload, err := retry.Do(ctx, policy, "extract "+messageID, func(ctx context.Context) (map[string]any, error) {
		content, err := e.complete(ctx, apiKey, text, messageID)
		if err != nil {
			return nil, err
		}
		return ParsePayload(content)
	})
	if err != nil {
		return nil, err
	}
	payload["email_id"] = messageID

	e.store(ctx, key, payload)
	return payload, nil
}

func (e *Extractor) cached(ctx context.Context, key, messageID string) (map[string]any, bool) {
	if e.cache == nil {
		return nil, false
	}

	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("extraction cache lookup failed", logging.MessageID(messageID), logging.Err(err))
		return nil, false
	}
	if !ok {
		e.metrics.RecordExtractCache(ctx, instrumentation.CacheMiss)
		return nil, false
	}

	payload, err := ParsePayload(string(raw))
	if err != nil {
		e.logger.Warn("ignoring unreadable cache entry", logging.MessageID(messageID), logging.Err(err))
		e.metrics.RecordExtractCache(ctx, instrumentation.CacheMiss)
		return nil, false
	}
	e.metrics.RecordExtractCache(ctx, instrumentation.CacheHit)
	payload["email_id"] = messageID
	return payload, true
}

func (e *Extractor) store(ctx context.Context, key string, payload map[string]any) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data); err != nil {
		e.logger.Warn("extraction cache store failed", logging.Err(err))
	}
}

// complete performs one completion request and returns the raw model output.
func (e *Extractor) complete(ctx context.Context, apiKey, text, messageID string) (string, error) {
	ctx, span := instrumentation.StartLLMSpan(ctx, e.model,
		instrumentation.NewSpanAttributeBuilder().WithMessage(messageID).Build()...)
	defer span.End()

	start := time.Now()
	res, err := e.client.Chat.Completions.New(ctx, e.params(text, messageID),
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(e.timeout),
	)
	var content string
	if err == nil {
		content, err = Content(res)
	}
	e.metrics.RecordLLMRequest(ctx, e.model, err, time.Since(start))
	instrumentation.SetSpanResult(span, err)
	return content, err
}

func (e *Extractor) params(text, messageID string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(UserPrompt(messageID, e.timezone, text)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schemaName,
					Description: openai.String("An event announced in an email"),
					Schema:      EventSchema(),
					// optional properties are left out of "required", which strict mode rejects
					Strict: openai.Bool(false),
				},
			},
		},
		Temperature: openai.Float(0),
	}
}

// UserPrompt renders the user message for one email.
func UserPrompt(messageID, timezone, text string) string {
	schema, _ := SchemaJSON()

	var b strings.Builder
	fmt.Fprintf(&b, "Email id: %s\n", messageID)
	fmt.Fprintf(&b, "Timezone: %s\n\n", timezone)
	b.WriteString("Email:\n")
	b.WriteString(text)
	b.WriteString("\n\nJSON Schema:\n")
	b.Write(schema)
	return b.String()
}

// Content returns the model output of a completion: the message content, or
// else the arguments of the first tool call that has any.
func Content(res *openai.ChatCompletion) (string, error) {
	if res == nil || len(res.Choices) == 0 {
		return "", ErrNoContent
	}
	msg := res.Choices[0].Message
	if strings.TrimSpace(msg.Content) != "" {
		return msg.Content, nil
	}
	for _, call := range msg.ToolCalls {
		if strings.TrimSpace(call.Function.Arguments) != "" {
			return call.Function.Arguments, nil
		}
	}
	return "", ErrNoContent
}

// ParsePayload decodes model output into a JSON object. Markdown code fences
// around the object are tolerated.
func ParsePayload(content string) (map[string]any, error) {
	s := stripFences(content)

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	return payload, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the language tag
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// IsTransient reports whether an extraction error is worth retrying.
// Throttling, conflicts, timeouts, server errors, transport failures and
// unusable output are retried; other API errors are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNoContent) || errors.Is(err, ErrMalformed) {
		return true
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusConflict,
		apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode >= http.StatusInternalServerError:
		return true
	}
	return false
}
