package xtree

import "go.opentelemetry.io/otel/attribute"

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String("outcome", outcome)
}
