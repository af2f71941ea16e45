package otelhelper

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorCodeKey carries the machine-readable code of coded errors.
const ErrorCodeKey = "netpad.error.code"

type codedError interface {
	ErrorCode() string
}

// SetError marks span failed. Errors exposing ErrorCode() also tag the
// span with that code so failed runs can be grouped by cause.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	var coded codedError
	if errors.As(err, &coded) && coded.ErrorCode() != "" {
		attrs = append(attrs, attribute.String(ErrorCodeKey, coded.ErrorCode()))
		span.SetAttributes(attribute.String(ErrorCodeKey, coded.ErrorCode()))
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}
