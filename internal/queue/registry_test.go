package queue

import (
	"context"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if reg.Known("send_email") {
		t.Error("empty registry should know nothing")
	}
	if h := reg.Lookup("send_email"); h != nil {
		t.Error("Lookup on empty registry should return nil")
	}

	reg.Register("send_email", func(context.Context, Job) error { return nil })
	reg.Register("generate_pdf", func(context.Context, Job) error { return nil })

	if !reg.Known("send_email") {
		t.Error("registered type should be known")
	}
	if h := reg.Lookup("generate_pdf"); h == nil {
		t.Error("Lookup should return the registered handler")
	}

	types := reg.Types()
	want := []string{"generate_pdf", "send_email"}
	if len(types) != len(want) {
		t.Fatalf("Types() = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Types() = %v, want %v (sorted)", types, want)
		}
	}
}
