package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc , broken, =skip,tenant=lottery ")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "lottery" {
		t.Fatalf("unexpected headers %v", got)
	}
	if len(ParseHeaders("")) != 0 {
		t.Fatalf("empty input should produce no headers")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "lotteryd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerBounds(t *testing.T) {
	if sampler(0).Description() == sampler(0.5).Description() {
		t.Fatalf("ratio sampler should differ from always-on")
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "lotteryd", InstanceID: "i-1", Version: "v1", Environment: "dev"})
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["service.name"] != "lotteryd" || got["service.instance.id"] != "i-1" || got["service.version"] != "v1" || got["deployment.environment"] != "dev" {
		t.Fatalf("unexpected attributes %v", got)
	}
	if len(resourceAttributes(Config{ServiceName: "lotteryd", InstanceID: "i-1"})) != 2 {
		t.Fatalf("optional attributes should be omitted")
	}
}

func TestTracerWithoutProvider(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}
