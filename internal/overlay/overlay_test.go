package overlay

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/sdk-debugger-go/internal/bus"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

func newTestOverlay(t *testing.T, b *bus.Bus, capacity int) *Overlay {
	t.Helper()
	o := New(b, profile.Static(profile.Get()), Options{CallCapacity: capacity, HandshakeTimeout: 50 * time.Millisecond})
	t.Cleanup(o.Close)
	return o
}

func TestStart_HandshakeAnswered(t *testing.T) {
	b := bus.New()
	b.On(bus.EventOverlayReady, func(_ any, reply bus.Reply) { reply(map[string]any{}) })

	o := newTestOverlay(t, b, 10)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !o.Attached() {
		t.Error("overlay should be attached after the handshake reply")
	}
}

func TestStart_NoStubYet(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 10)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, a missing stub is not an error", err)
	}
	if o.Attached() {
		t.Fatal("overlay should not be attached without a stub")
	}

	b.Emit(bus.EventStubReady, nil)
	if !o.Attached() {
		t.Error("stub-ready should attach the overlay")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOverlay(t, bus.New(), 10)
	if err := o.Start(ctx); err == nil {
		t.Error("Start() with a cancelled context should fail")
	}
}

func TestComponentDetails_ClientNotListed(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 10)
	_ = o.Start(context.Background())

	b.Emit(bus.EventComponentDetails, types.ComponentDebugRecord{Key: "client", Name: "Client"})
	b.Emit(bus.EventComponentDetails, types.ComponentDebugRecord{Key: "hosted-fields", Name: "Hosted Fields"})
	b.Emit(bus.EventComponentDetails, types.ComponentDebugRecord{Key: "venmo", Name: "Venmo"})
	b.Emit(bus.EventComponentDetails, types.ComponentDebugRecord{Key: "hosted-fields", Name: "Hosted Fields", Log: []string{"teardown()"}})

	got := o.Components()
	if len(got) != 2 || got[0].Key != "hosted-fields" || got[1].Key != "venmo" {
		t.Fatalf("components = %+v, want hosted-fields then venmo", got)
	}
	if len(got[0].Log) != 1 {
		t.Error("a repeated create should replace the record in place")
	}
	if _, ok := o.Component("client"); ok {
		t.Error("client should not be listed")
	}
}

func TestFunctionCall_Filtering(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 10)
	_ = o.Start(context.Background())

	for _, name := range []string{"tokenize", "_emit", "getConfiguration", "getVersion", "hasListener", "toJSON", "on"} {
		b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "hosted-fields", FunctionName: name})
	}

	var names []string
	for _, c := range o.Calls(0) {
		names = append(names, c.FunctionName)
	}
	if want := []string{"tokenize", "on"}; !reflect.DeepEqual(names, want) {
		t.Errorf("logged calls = %v, want %v", names, want)
	}
}

func TestCalls_Limit(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 3)
	_ = o.Start(context.Background())

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "venmo", FunctionName: name})
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{0, []string{"c", "d", "e"}},
		{2, []string{"d", "e"}},
		{10, []string{"c", "d", "e"}},
	}
	for _, tt := range tests {
		var got []string
		for _, c := range o.Calls(tt.limit) {
			got = append(got, c.FunctionName)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Calls(%d) = %v, want %v", tt.limit, got, tt.want)
		}
	}
	if v := o.View(); v.TotalCalls != 5 {
		t.Errorf("TotalCalls = %d, want 5", v.TotalCalls)
	}
}

func TestClientMetadata(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 10)
	_ = o.Start(context.Background())

	if _, ok := o.ClientMetadata(); ok {
		t.Fatal("no metadata before disclosure")
	}

	config := map[string]any{"environment": "sandbox"}
	b.Emit(bus.EventClientMetadata, config)

	got, ok := o.ClientMetadata()
	if !ok || !reflect.DeepEqual(got, config) {
		t.Errorf("ClientMetadata() = %v, %v", got, ok)
	}
	if !o.Attached() {
		t.Error("client metadata should reveal the overlay")
	}
}

func TestReset_StartsNewDocument(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 10)
	_ = o.Start(context.Background())

	b.Emit(bus.EventStubReady, nil)
	b.Emit(bus.EventComponentDetails, types.ComponentDebugRecord{Key: "venmo"})
	b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "venmo", FunctionName: "tokenize"})
	b.Emit(bus.EventClientMetadata, map[string]any{"environment": "sandbox"})

	ch, cancel := o.Subscribe(8)
	defer cancel()

	o.Reset("https://shop.example/next?token=secret")

	select {
	case n := <-ch:
		if n.Kind != KindNavigated || n.URL == "" || strings.Contains(n.URL, "secret") {
			t.Errorf("notification = %+v, want a redacted navigation", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for the reset")
	}

	view := o.View()
	if view.Attached || len(view.Components) != 0 || len(view.Calls) != 0 || view.ClientMetadata != nil || view.TotalCalls != 0 {
		t.Errorf("view after reset = %+v, want empty", view)
	}

	b.Emit(bus.EventStubReady, nil)
	b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "paypal", FunctionName: "createPayment"})
	b.Emit(bus.EventClientMetadata, map[string]any{"environment": "production"})

	view = o.View()
	if !view.Attached || view.TotalCalls != 1 || len(view.Calls) != 1 {
		t.Errorf("view after new document = %+v", view)
	}
	if md, _ := o.ClientMetadata(); md.(map[string]any)["environment"] != "production" {
		t.Errorf("ClientMetadata() = %v, want the new document's", md)
	}
}

func TestSubscribe(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 10)
	_ = o.Start(context.Background())

	ch, cancel := o.Subscribe(8)
	defer cancel()

	b.Emit(bus.EventStubReady, nil)
	b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "venmo", FunctionName: "tokenize"})
	b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "venmo", FunctionName: "_private"})
	b.Emit(bus.EventComponentDetails, types.ComponentDebugRecord{Key: "venmo"})

	var kinds []string
	for i := 0; i < 3; i++ {
		select {
		case n := <-ch:
			kinds = append(kinds, n.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", kinds)
		}
	}
	if want := []string{KindAttached, KindCall, KindComponent}; !reflect.DeepEqual(kinds, want) {
		t.Errorf("notifications = %v, want %v", kinds, want)
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := bus.New()
	o := newTestOverlay(t, b, 100)
	_ = o.Start(context.Background())

	_, cancel := o.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Emit(bus.EventFunctionCall, types.FunctionCall{Component: "venmo", FunctionName: "tokenize"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitting blocked on a slow subscriber")
	}
	if got := len(o.Calls(0)); got != 50 {
		t.Errorf("calls = %d, want 50", got)
	}
}

func TestClose_EndsSubscriptionsAndListeners(t *testing.T) {
	b := bus.New()
	o := New(b, profile.Static(profile.Get()), Options{HandshakeTimeout: 10 * time.Millisecond})
	_ = o.Start(context.Background())

	ch, cancel := o.Subscribe(1)
	o.Close()
	o.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("subscription channel should be closed")
	}
	if n := b.HandlerCount(bus.EventFunctionCall); n != 0 {
		t.Errorf("handlers left after Close = %d", n)
	}
}
