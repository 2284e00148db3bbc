package llm

import "testing"

func TestJoinSplitCallIDRoundTrip(t *testing.T) {
	cases := []struct{ callID, itemID string }{
		{"call_abc123", "item_def456"},
		{"c1", "i1"},
		{"call-with-dash", "fc_0123"},
	}
	for _, c := range cases {
		joined := JoinCallID(c.callID, c.itemID)
		gotCall, gotItem := SplitCallID(joined)
		if gotCall != c.callID || gotItem != c.itemID {
			t.Errorf("split(join(%q,%q)) = (%q,%q)", c.callID, c.itemID, gotCall, gotItem)
		}
	}
}

func TestJoinCallIDWithoutItem(t *testing.T) {
	if got := JoinCallID("call_x", ""); got != "call_x" {
		t.Errorf("JoinCallID dropped bare call id: %q", got)
	}
	callID, itemID := SplitCallID("call_x")
	if callID != "call_x" || itemID != "" {
		t.Errorf("SplitCallID(call_x) = (%q,%q)", callID, itemID)
	}
}
