package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxevents/internal/google"
	"github.com/teemow/inboxevents/internal/instrumentation"
	"github.com/teemow/inboxevents/internal/logging"
	"github.com/teemow/inboxevents/internal/retry"
)

// ErrListingFailed marks a failure to list the mailbox. It aborts the whole run.
var ErrListingFailed = errors.New("listing messages failed")

const (
	// DefaultUser is the Gmail user id for the authenticated account.
	DefaultUser = "me"

	// DefaultPageSize is the largest page the messages.list endpoint returns.
	DefaultPageSize = 500

	// DefaultRequestTimeout bounds each Gmail API request.
	DefaultRequestTimeout = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	// Retry controls attempts and backoff for list and get calls.
	// Retryable is always replaced with IsTransient.
	Retry retry.Policy

	// RequestTimeout bounds each HTTP request (default: 30s).
	RequestTimeout time.Duration

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Client wraps the Gmail Users service
type Client struct {
	svc      *gmail.UsersService
	user     string
	pageSize int64
	policy   retry.Policy
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// NewClient creates a Gmail client authenticated by ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts Options) (*Client, error) {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(google.HTTPClient(ctx, ts, timeout)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewClientWithService(svc, opts), nil
}

// NewClientWithService wraps an existing Gmail service.
func NewClientWithService(svc *gmail.Service, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}

	c := &Client{
		svc:      svc.Users,
		user:     DefaultUser,
		pageSize: DefaultPageSize,
		policy:   opts.Retry,
		metrics:  metrics,
		logger:   logging.WithService(logger, instrumentation.ServiceGmail),
	}
	c.policy.Retryable = IsTransient
	return c
}

func (c *Client) retryPolicy(op string) retry.Policy {
	p := c.policy
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("gmail request failed, retrying",
			logging.Operation(op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			logging.Err(err))
	}
	return p
}

// ListMessageIDs returns the ids of all messages matching query, following
// pagination. Each page is retried on transient errors; a page that still
// fails makes the whole listing fail with ErrListingFailed.
func (c *Client) ListMessageIDs(ctx context.Context, query string) ([]string, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationList)
	defer span.End()

	var ids []string
	pageToken := ""
	for {
		res, err := retry.Do(ctx, c.retryPolicy("gmail.list"), "gmail.messages.list",
			func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
				req := c.svc.Messages.List(c.user).Q(query).MaxResults(c.pageSize).Context(ctx)
				if pageToken != "" {
					req = req.PageToken(pageToken)
				}
				return timed(ctx, c.metrics, instrumentation.OperationList, req.Do)
			})
		if err != nil {
			instrumentation.SetSpanError(span, err)
			return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
		}

		for _, m := range res.Messages {
			if m == nil || m.Id == "" {
				continue
			}
			ids = append(ids, m.Id)
		}

		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	instrumentation.SetSpanSuccess(span)
	c.logger.Info("listed messages", logging.Operation("gmail.list"), slog.Int("count", len(ids)))
	return ids, nil
}

// GetMessage retrieves the full representation of a message, retrying on transient errors.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationGet,
		instrumentation.NewSpanAttributeBuilder().WithResource("message", messageID).Build()...)
	defer span.End()

	msg, err := retry.Do(ctx, c.retryPolicy("gmail.get"), "gmail.messages.get",
		func(ctx context.Context) (*gmail.Message, error) {
			req := c.svc.Messages.Get(c.user, messageID).Format("full").Context(ctx)
			return timed(ctx, c.metrics, instrumentation.OperationGet, req.Do)
		})
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	instrumentation.SetSpanSuccess(span)
	return msg, nil
}

// FetchMessage retrieves a message and extracts its text and headers.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*Message, error) {
	msg, err := c.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return NewMessage(msg), nil
}

// FetchMessageText retrieves a message and returns its plain text, falling
// back to the snippet. An empty string means the message has no usable text.
func (c *Client) FetchMessageText(ctx context.Context, messageID string) (string, error) {
	m, err := c.FetchMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	return m.Text, nil
}

func timed[T any](ctx context.Context, m *instrumentation.Metrics, op string, do func(...googleapi.CallOption) (T, error)) (T, error) {
	start := time.Now()
	v, err := do()
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	m.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, op, status, time.Since(start))
	return v, err
}
