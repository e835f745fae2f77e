package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"
)

const instrumentationName = "marko/api"

// TokenSource yields the session token at dispatch time, "" when absent.
type TokenSource interface {
	Get(ctx context.Context) string
}

type noTokens struct{}

func (noTokens) Get(context.Context) string { return "" }

type operationKey struct{}

func withOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

func operationFrom(r *http.Request) string {
	if op, ok := r.Context().Value(operationKey{}).(string); ok {
		return op
	}
	return r.Method + " " + r.URL.Path
}

type meters struct {
	counter metric.Int64Counter
	hist    metric.Int64Histogram
}

func newMeters(ctx context.Context, app commoncfg.Application) (*meters, error) {
	meter := otel.Meter(
		instrumentationName,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(app)...),
	)

	counter, err := meter.Int64Counter(
		"api.request_count",
		metric.WithDescription("Outgoing request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return nil, oops.In("API Client").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err := meter.Int64Histogram(
		"api.duration",
		metric.WithDescription("Outgoing request end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, oops.In("API Client").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	return &meters{counter: counter, hist: hist}, nil
}

// bearerTransport attaches the current session token to every request. The
// token is read for each request and never cached, so a sign-out takes
// effect on the very next dispatch.
type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenSource
	tracer trace.Tracer
	meters *meters
	app    commoncfg.Application
}

var _ http.RoundTripper = (*bearerTransport)(nil)

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	operation := operationFrom(req)
	requestID := uuid.NewString()

	ctx := slogctx.With(req.Context(),
		commoncfg.AttrRequestID, requestID,
		commoncfg.AttrOperation, operation,
	)
	ctx, span := t.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer span.End()

	out := req.Clone(ctx)
	out.Header.Del("Authorization")
	if token := t.tokens.Get(ctx); token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	out.Header.Set("X-Request-ID", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	start := time.Now()
	resp, err := t.base.RoundTrip(out)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	attrs := metric.WithAttributes(
		otlp.CreateAttributesFrom(t.app,
			attribute.String(commoncfg.AttrOperation, operation),
			attribute.String("status", strconv.Itoa(status)),
		)...,
	)
	t.meters.counter.Add(ctx, 1, attrs)
	t.meters.hist.Record(ctx, elapsed.Milliseconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slogctx.Debug(ctx, "Request failed", "error", err, "elapsed", elapsed)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	slogctx.Debug(ctx, "Request finished", "status", status, "elapsed", elapsed)

	return resp, nil
}
