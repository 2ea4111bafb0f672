package consensus

import (
	"errors"
	"testing"

	"serotonyl.ru/engagement-engine/internal/common"
)

func TestResolve(t *testing.T) {
	p := Policy{MinApprove: 10, MinReject: 10, ApproveRatio: 2, RejectRatio: 2}

	tests := []struct {
		name            string
		approve, reject int64
		current         Status
		want            Status
	}{
		{"approve crossed", 21, 5, StatusPending, StatusApproved},
		{"ratio not met", 11, 6, StatusPending, StatusPending},
		{"ratio boundary is strict", 20, 10, StatusPending, StatusPending},
		{"below minimum", 9, 0, StatusPending, StatusPending},
		{"reject crossed", 1, 10, StatusPending, StatusRejected},
		{"flips back to approved", 30, 12, StatusRejected, StatusApproved},
		{"keeps flagged", 5, 5, StatusFlagged, StatusFlagged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Resolve(tt.approve, tt.reject, tt.current); got != tt.want {
				t.Errorf("Resolve(%d, %d, %s) = %s, want %s", tt.approve, tt.reject, tt.current, got, tt.want)
			}
		})
	}
}

func TestWeightFor(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		level int
		want  int
	}{
		{0, 1},
		{1, 1},
		{3, 2},
		{5, 3},
		{10, 10},
		{15, 10},
	}
	for _, tt := range tests {
		if got := p.WeightFor(tt.level); got != tt.want {
			t.Errorf("WeightFor(%d) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() error = %v", err)
	}

	decreasing := DefaultPolicy()
	decreasing.LevelWeights = []int{1, 3, 2}
	zero := DefaultPolicy()
	zero.LevelWeights = []int{0, 1}
	noRatio := DefaultPolicy()
	noRatio.ApproveRatio = 0

	for name, p := range map[string]Policy{"decreasing": decreasing, "zero weight": zero, "zero ratio": noRatio} {
		if err := p.Validate(); !errors.Is(err, common.ErrInvalidRules) {
			t.Errorf("%s: Validate() error = %v, want %v", name, err, common.ErrInvalidRules)
		}
	}
}
