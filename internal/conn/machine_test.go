package conn

import (
	"testing"

	"gateway-console/internal/gateway"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to gateway.Status
		ok       bool
	}{
		{gateway.StatusDisconnected, gateway.StatusConnecting, true},
		{gateway.StatusConnected, gateway.StatusConnecting, true},
		{gateway.StatusError, gateway.StatusConnecting, true},
		{gateway.StatusQRCode, gateway.StatusConnecting, false},
		{gateway.StatusConnecting, gateway.StatusQRCode, true},
		{gateway.StatusDisconnected, gateway.StatusQRCode, false},
		{gateway.StatusConnected, gateway.StatusQRCode, false},
		{gateway.StatusConnecting, gateway.StatusDisconnected, true},
		{gateway.StatusQRCode, gateway.StatusDisconnected, true},
		{gateway.StatusConnected, gateway.StatusDisconnected, true},
		{gateway.StatusError, gateway.StatusDisconnected, true},
		{gateway.StatusConnecting, gateway.StatusError, true},
		{gateway.StatusQRCode, gateway.StatusError, true},
		{gateway.StatusConnected, gateway.StatusError, true},
		{gateway.StatusDisconnected, gateway.StatusError, true},
	}
	for _, tc := range cases {
		m := &machine{state: tc.from}
		err := m.transition(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: expected success, got %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s: expected rejection", tc.from, tc.to)
		}
		if tc.ok && m.state != tc.to {
			t.Errorf("%s -> %s: state not updated, got %s", tc.from, tc.to, m.state)
		}
		if !tc.ok && m.state != tc.from {
			t.Errorf("%s -> %s: rejected transition mutated state to %s", tc.from, tc.to, m.state)
		}
	}
}

func TestSelfTransitionsRejected(t *testing.T) {
	for _, s := range []gateway.Status{
		gateway.StatusDisconnected,
		gateway.StatusConnecting,
		gateway.StatusQRCode,
		gateway.StatusConnected,
		gateway.StatusError,
	} {
		m := &machine{state: s}
		if err := m.transition(s); err == nil {
			t.Errorf("%s -> %s: self-transition must be rejected", s, s)
		}
	}
}

func TestConnectedOnlyViaObservation(t *testing.T) {
	for _, s := range []gateway.Status{
		gateway.StatusDisconnected,
		gateway.StatusConnecting,
		gateway.StatusQRCode,
		gateway.StatusError,
	} {
		m := &machine{state: s}
		if err := m.transition(gateway.StatusConnected); err == nil {
			t.Errorf("transition(%s -> connected) must be rejected", s)
		}
	}

	m := newMachine()
	if err := m.observeConnected(); err == nil {
		t.Fatal("observeConnected from disconnected must fail")
	}
	if err := m.transition(gateway.StatusConnecting); err != nil {
		t.Fatal(err)
	}
	if err := m.observeConnected(); err != nil {
		t.Fatalf("observeConnected from connecting: %v", err)
	}
	if m.state != gateway.StatusConnected {
		t.Fatalf("expected connected, got %s", m.state)
	}

	m = &machine{state: gateway.StatusQRCode}
	if err := m.observeConnected(); err != nil {
		t.Fatalf("observeConnected from qrcode: %v", err)
	}
}

func TestNewMachineStartsDisconnected(t *testing.T) {
	if got := newMachine().state; got != gateway.StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
}
