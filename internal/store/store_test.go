package store

import (
	"encoding/json"
	"strings"
	"testing"

	"lnadvisor/internal/actions"
)

func TestBuildActionInsert(t *testing.T) {
	act := actions.Action{
		Entity:   actions.EntityChannel,
		ID:       "700000x100x0",
		Alias:    "peer",
		Priority: 14,
		Variable: actions.VariableFeeRate,
		Actual:   100,
		Target:   140,
		Max:      2500,
		Reason:   "test",
	}
	query, args := buildActionInsert(7, 3, act)
	if !strings.Contains(query, "insert into advice_actions") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 12 {
		t.Fatalf("arg count = %d, want 12", len(args))
	}
	if args[0] != int64(7) || args[1] != 3 {
		t.Fatalf("unexpected run/seq args: %v %v", args[0], args[1])
	}
	if args[9] != int32(14) {
		t.Fatalf("priority arg = %v, want int32(14)", args[9])
	}

	payload, ok := args[11].([]byte)
	if !ok {
		t.Fatalf("payload is %T, want []byte", args[11])
	}
	var back actions.Action
	if err := json.Unmarshal(payload, &back); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if back != act {
		t.Fatalf("payload round trip changed the action: %+v", back)
	}
}
