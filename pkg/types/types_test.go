package types

import (
	"encoding/json"
	"testing"
)

func TestMicroJSONRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []Micro{0, 1, -1, 1_000_000_000, -999_999_999_999}

	for _, m := range tests {
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Marshal(%d): %v", m, err)
		}
		if got := string(data); got[0] != '"' {
			t.Errorf("Micro(%d) marshaled as %s, want a JSON string", m, got)
		}
		var back Micro
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != m {
			t.Errorf("round trip: got %d, want %d", back, m)
		}
	}
}

func TestOutcomeJSONRoundTrip(t *testing.T) {
	t.Parallel()

	for _, o := range []Outcome{YES, NO} {
		data, err := json.Marshal(o)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", o, err)
		}
		var back Outcome
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != o {
			t.Errorf("round trip: got %v, want %v", back, o)
		}
	}

	if err := json.Unmarshal([]byte(`"MAYBE"`), new(Outcome)); err == nil {
		t.Error("expected error for unknown outcome")
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{ACTIVE, FROZEN, RESOLVED, SETTLED, CANCELLED} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", s, err)
		}
		var back Status
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != s {
			t.Errorf("round trip: got %v, want %v", back, s)
		}
	}
}

func TestMarketCloneIsDeep(t *testing.T) {
	t.Parallel()

	outcome := YES
	m := &Market{
		ID: "m1",
		AMM: AMM{B: 1000, SharesYes: 10, SharesNo: 5},
		Trades: []Trade{{ID: "t1", Shares: 10}},
		Positions: map[PositionKey]*Position{
			{User: "u1", Outcome: YES}: {Shares: 10, TotalCost: 100},
		},
		WinningOutcome: &outcome,
	}

	clone := m.Clone()
	clone.Trades[0].Shares = 999
	clone.Positions[PositionKey{User: "u1", Outcome: YES}].Shares = 999
	*clone.WinningOutcome = NO

	if m.Trades[0].Shares != 10 {
		t.Errorf("clone mutation leaked into original trade: %d", m.Trades[0].Shares)
	}
	if m.Positions[PositionKey{User: "u1", Outcome: YES}].Shares != 10 {
		t.Error("clone mutation leaked into original position")
	}
	if *m.WinningOutcome != YES {
		t.Error("clone mutation leaked into original winning outcome")
	}
}

func TestMarketJSONRoundTripPreservesPositions(t *testing.T) {
	t.Parallel()

	m := &Market{
		ID:  "m1",
		AMM: AMM{B: 1000, SharesYes: 10, SharesNo: 5},
		Positions: map[PositionKey]*Position{
			{User: "u1", Outcome: YES}: {Shares: 10, TotalCost: 100},
			{User: "u2", Outcome: NO}:  {Shares: 20, TotalCost: 200},
		},
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Market
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(back.Positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(back.Positions))
	}
	if p := back.Positions[PositionKey{User: "u1", Outcome: YES}]; p == nil || p.Shares != 10 || p.TotalCost != 100 {
		t.Errorf("u1/YES position = %+v, want shares=10 total_cost=100", p)
	}
	if p := back.Positions[PositionKey{User: "u2", Outcome: NO}]; p == nil || p.Shares != 20 || p.TotalCost != 200 {
		t.Errorf("u2/NO position = %+v, want shares=20 total_cost=200", p)
	}
}
