// Package observability provides metrics for the release pipeline.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrStage       = "stage"
	attrEnvironment = "environment"
	attrKind        = "kind"
	attrSuccess     = "success"
)

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func environmentAttr(environment string) attribute.KeyValue {
	return attribute.String(attrEnvironment, environment)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// WithStage returns a metric option with the stage attribute.
func WithStage(stage string) metric.MeasurementOption {
	return metric.WithAttributes(stageAttr(stage))
}

// WithEnvironment returns a metric option with the environment attribute.
func WithEnvironment(environment string) metric.MeasurementOption {
	return metric.WithAttributes(environmentAttr(environment))
}

// WithSuccess returns a metric option with the success attribute.
func WithSuccess(success bool) metric.MeasurementOption {
	return metric.WithAttributes(successAttr(success))
}
