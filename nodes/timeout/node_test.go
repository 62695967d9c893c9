package timeout

import (
	"context"
	"testing"

	"github.com/MrEthical07/goAuthTree/journey"
)

func TestTimeoutNodeSetsMaxDuration(t *testing.T) {
	cases := []Config{{Minutes: 10}, {Minutes: 5, Relative: true}}
	for _, cfg := range cases {
		n, err := New(cfg)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		a, err := n.Step(context.Background(), journey.Context{NodeID: "t"})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		md := a.SideEffects().MaxDuration
		if md == nil || md.Minutes != cfg.Minutes || md.Relative != cfg.Relative {
			t.Fatalf("max duration = %+v want %+v", md, cfg)
		}
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected zero minutes to fail")
	}
}
