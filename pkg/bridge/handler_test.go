package bridge

import (
	"context"
	"testing"
)

func TestDispatcher(t *testing.T) {
	d := NewDispatcher()
	ctx := context.Background()

	d.RegisterFunc("echo", func(ctx context.Context, msg *Message) (*Message, error) {
		var payload map[string]interface{}
		if err := msg.ParsePayload(&payload); err != nil {
			return nil, err
		}
		return NewResponse(msg.ID, msg.Action, payload)
	})

	if !d.HasHandler("echo") {
		t.Fatal("expected echo handler to be registered")
	}

	req, err := NewRequest("req-1", "echo", map[string]interface{}{"value": "ping"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	resp, err := d.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.Type != MessageTypeResponse {
		t.Errorf("expected response type, got %s", resp.Type)
	}
	if resp.ID != "req-1" {
		t.Errorf("expected response to carry request ID, got %q", resp.ID)
	}

	var echoed map[string]interface{}
	if err := resp.ParsePayload(&echoed); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if echoed["value"] != "ping" {
		t.Errorf("expected echoed payload, got %v", echoed)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	d := NewDispatcher()

	req, err := NewRequest("req-1", "no.such.action", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	resp, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.Type != MessageTypeError {
		t.Fatalf("expected error message, got %s", resp.Type)
	}

	ep, err := resp.ParseError()
	if err != nil {
		t.Fatalf("ParseError failed: %v", err)
	}
	if ep.Code != ErrorCodeUnknownAction {
		t.Errorf("expected %s, got %s", ErrorCodeUnknownAction, ep.Code)
	}
}
