package mempool

import "testing"

func TestPullPayloadFIFOOrder(t *testing.T) {
	m := New()
	m.Submit([]byte("first"))
	m.Submit([]byte("second"))
	m.Submit([]byte("third"))

	payload := m.PullPayload(1 << 20)
	entries := SplitPayload(payload)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	want := []string{"first", "second", "third"}
	for i, e := range entries {
		if string(e) != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e, want[i])
		}
	}
	if m.Len() != 0 {
		t.Fatalf("queue len after full drain = %d, want 0", m.Len())
	}
}

func TestPullPayloadRespectsLimit(t *testing.T) {
	m := New()
	m.Submit(make([]byte, 10))
	m.Submit(make([]byte, 10))
	m.Submit(make([]byte, 10))

	payload := m.PullPayload(15)
	entries := SplitPayload(payload)
	if len(entries) != 1 {
		t.Fatalf("entries taken under a 15-byte cap = %d, want 1 (the first entry alone already exceeds headroom for a second)", len(entries))
	}
	if m.Len() != 2 {
		t.Fatalf("remaining queue len = %d, want 2", m.Len())
	}
}

func TestPullPayloadAlwaysTakesAtLeastOneEntry(t *testing.T) {
	m := New()
	m.Submit(make([]byte, 100))

	payload := m.PullPayload(1)
	entries := SplitPayload(payload)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (limit never starves the first entry)", len(entries))
	}
}

func TestSplitPayloadEmpty(t *testing.T) {
	if entries := SplitPayload(nil); len(entries) != 0 {
		t.Fatalf("entries from empty payload = %d, want 0", len(entries))
	}
}
