package duration

import "testing"

func TestRoundToSlot(t *testing.T) {
	cases := []struct {
		minutes  float64
		expected int
	}{
		{0, 15},
		{-10, 15},
		{1, 15},
		{15, 15},
		{20, 15},   // 余5 < 7.5 向下
		{22.5, 30}, // 余7.5 进位
		{23, 30},
		{30, 30},
		{67, 60}, // 余7 向下
		{68, 75}, // 余8 进位
		{75, 75},
	}
	for _, tc := range cases {
		if got := RoundToSlot(tc.minutes); got != tc.expected {
			t.Errorf("RoundToSlot(%v): expected %d, got %d", tc.minutes, tc.expected, got)
		}
	}
}

func TestRoundToSlotAlwaysMultipleOfSlot(t *testing.T) {
	for m := -30.0; m <= 500; m += 0.5 {
		got := RoundToSlot(m)
		if got%SlotMinutes != 0 {
			t.Fatalf("RoundToSlot(%v) = %d, not a multiple of %d", m, got, SlotMinutes)
		}
		if got < MinLeafMinutes {
			t.Fatalf("RoundToSlot(%v) = %d, below floor %d", m, got, MinLeafMinutes)
		}
	}
}

func TestLeafMinutes(t *testing.T) {
	cases := []struct {
		setup    float64
		unit     float64
		qty      int
		expected int
	}{
		{10, 5, 10, 60},   // 10 + 50 = 60
		{10, 5.8, 10, 75}, // 10 + 58 = 68 → 余8 进位
		{10, 5.7, 10, 60}, // 10 + 57 = 67 → 余7 向下
		{0, 0, 10, 15},    // 零工时取最小槽
		{-5, 0, 1, 15},    // 负值同零处理
		{30, 0, 0, 30},    // 只有准备工时
		{0, 15, 1, 15},
	}
	for _, tc := range cases {
		if got := LeafMinutes(tc.setup, tc.unit, tc.qty); got != tc.expected {
			t.Errorf("LeafMinutes(%v, %v, %d): expected %d, got %d",
				tc.setup, tc.unit, tc.qty, tc.expected, got)
		}
	}
}
