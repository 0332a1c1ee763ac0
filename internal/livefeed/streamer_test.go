package livefeed

import "testing"

func TestRegisterClient_TracksCountsAndStats(t *testing.T) {
	s := New()
	c := &Client{send: make(chan *TelemetryMessage, 1), id: "test"}
	s.RegisterClient(c)

	clients, sent, served := s.Stats()
	if clients != 1 || served != 1 || sent != 0 {
		t.Fatalf("expected 1 client registered, got clients=%d sent=%d served=%d", clients, sent, served)
	}

	s.UnregisterClient(c)
	clients, _, _ = s.Stats()
	if clients != 0 {
		t.Fatalf("expected 0 clients after unregister, got %d", clients)
	}
}

func TestBroadcast_DropsOldestWhenFull(t *testing.T) {
	s := New()
	// Fill beyond capacity; the call must not block.
	for i := 0; i < 150; i++ {
		s.Broadcast(&TelemetryMessage{Time: float64(i)})
	}
	if len(s.broadcast) != cap(s.broadcast) {
		t.Fatalf("expected broadcast channel full at capacity %d, got %d", cap(s.broadcast), len(s.broadcast))
	}
}
