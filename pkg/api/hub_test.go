// file: pkg/api/hub_test.go
package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubPublishFansOutToRegisteredClient(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	c := &client{hub: h, send: make(chan []byte, 4)}
	h.register <- c

	h.Publish(map[string]string{"event": "finalized"})

	select {
	case msg := <-c.send:
		var got map[string]string
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["event"] != "finalized" {
			t.Fatalf("got %+v, want event=finalized", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	c := &client{hub: h, send: make(chan []byte, 4)}
	h.register <- c
	h.unregister <- c

	// Give Run a moment to process the unregister before checking.
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("send channel delivered a value instead of being closed")
		}
	default:
		t.Fatal("send channel was not closed after unregister")
	}
}
