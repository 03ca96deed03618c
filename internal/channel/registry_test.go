package channel

import (
	"context"
	"testing"
)

type fakeTransport struct {
	name string
}

func (f *fakeTransport) Name() string { return f.name }
func (f *fakeTransport) SendText(context.Context, string, string, string) (SendResult, error) {
	return SendResult{ProviderMessageID: "fake"}, nil
}
func (f *fakeTransport) SendMedia(context.Context, string, string, string, string) (SendResult, error) {
	return SendResult{ProviderMessageID: "fake"}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(&fakeTransport{name: "cloud"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	got, ok := r.Get("cloud")
	if !ok || got.Name() != "cloud" {
		t.Fatalf("lookup failed: %v %v", got, ok)
	}
	if _, ok := r.Get("session"); ok {
		t.Fatal("unregistered transport must not resolve")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(&fakeTransport{name: "cloud"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(&fakeTransport{name: "cloud"}); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if err := r.Register(nil); err == nil {
		t.Fatal("nil transport must fail")
	}
	if err := r.Register(&fakeTransport{}); err == nil {
		t.Fatal("empty name must fail")
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	if ParseType(" Messenger ") != TypeMessenger {
		t.Fatal("expected case/space-insensitive parse")
	}
	if ParseType("smoke-signals") != "" {
		t.Fatal("unknown channel must parse to empty")
	}
}
