package gateway

import (
	"encoding/json"
	"testing"
)

func TestNormalizeInstanceAliases(t *testing.T) {
	payload := map[string]any{
		"instance_id":       "abc-123",
		"instanceName":      "demo",
		"connection_status": "open",
		"phone_number":      "5511999990000",
		"profile_name":      "Demo Shop",
		"profilePicUrl":     "https://cdn.example/p.jpg",
	}

	inst := normalizeInstance(payload)
	if inst.ID != "abc-123" {
		t.Fatalf("expected id abc-123, got %q", inst.ID)
	}
	if inst.Name != "demo" {
		t.Fatalf("expected name demo, got %q", inst.Name)
	}
	if inst.Status != StatusConnected {
		t.Fatalf("expected connected, got %s", inst.Status)
	}
	if inst.Phone != "5511999990000" {
		t.Fatalf("expected phone, got %q", inst.Phone)
	}
	if inst.ProfileName != "Demo Shop" || inst.ProfilePicture == "" {
		t.Fatalf("profile metadata not normalized: %+v", inst)
	}
}

func TestNormalizeInstanceNestedEnvelope(t *testing.T) {
	raw := []byte(`{"data":{"instance":{"id":"x","name":"demo","status":"qrcode"}}}`)
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}

	inst := normalizeInstance(payload)
	if inst.Name != "demo" {
		t.Fatalf("expected demo, got %q", inst.Name)
	}
	if inst.Status != StatusQRCode {
		t.Fatalf("expected qrcode, got %s", inst.Status)
	}
}

func TestNormalizeInstanceUnknownShapeDegrades(t *testing.T) {
	inst := normalizeInstance(map[string]any{"something": []any{1, 2}, "else": true})
	if inst.Status != StatusDisconnected {
		t.Fatalf("unknown shape must default to disconnected, got %s", inst.Status)
	}
	if inst.Name != "" || inst.ID != "" {
		t.Fatalf("unknown shape must yield empty fields, got %+v", inst)
	}
}

func TestNormalizeInstanceTrimsOwnerJID(t *testing.T) {
	inst := normalizeInstance(map[string]any{"name": "demo", "ownerJid": "5511999990000@s.whatsapp.net"})
	if inst.Phone != "5511999990000" {
		t.Fatalf("expected bare number, got %q", inst.Phone)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"open":         StatusConnected,
		"CONNECTED":    StatusConnected,
		" connecting ": StatusConnecting,
		"qr":           StatusQRCode,
		"qr_code":      StatusQRCode,
		"banned":       StatusError,
		"close":        StatusDisconnected,
		"":             StatusDisconnected,
		"whatever":     StatusDisconnected,
	}
	for raw, want := range cases {
		if got := NormalizeStatus(raw); got != want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestIsTerminalFailure(t *testing.T) {
	if !IsTerminalFailure("banned") || !IsTerminalFailure("failed") {
		t.Fatal("explicit failure statuses must be terminal")
	}
	if IsTerminalFailure("close") || IsTerminalFailure("connecting") || IsTerminalFailure("") {
		t.Fatal("non-failure statuses must not be terminal")
	}
}
