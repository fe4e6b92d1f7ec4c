// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import (
	"errors"
	"testing"
)

type stateStep struct {
	size, align uint64
	want        uint64
	wantErr     bool
	setTail     *uint64
}

func tailAt(v uint64) *uint64 { return &v }

func runStateSteps(t *testing.T, s *State, capacity uint64, steps []stateStep) {
	t.Helper()
	for i, st := range steps {
		if st.setTail != nil {
			s.Tail = *st.setTail
			continue
		}
		got, err := s.Alloc(capacity, st.size, st.align)
		if st.wantErr {
			if !errors.Is(err, ErrNoSpace) {
				t.Fatalf("step %d: Alloc(%d, %d) = %d, %v; want ErrNoSpace", i, st.size, st.align, got, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d: Alloc(%d, %d) error: %v", i, st.size, st.align, err)
		}
		if got != st.want {
			t.Fatalf("step %d: Alloc(%d, %d) = %d, want %d", i, st.size, st.align, got, st.want)
		}
	}
}

func TestStateSequence(t *testing.T) {
	var s State
	runStateSteps(t, &s, 10, []stateStep{
		{size: 2, align: 1, want: 8},
		{size: 1, align: 1, want: 7},
		{size: 7, align: 1, wantErr: true},
		{size: 6, align: 1, want: 1},
		{setTail: tailAt(8)},
		{size: 1, align: 2, want: 0},
		{size: 1, align: 1, want: 9},
		{size: 1, align: 1, wantErr: true},
		{setTail: tailAt(7)},
		{size: 2, align: 1, wantErr: true},
		{size: 1, align: 16, wantErr: true},
		{size: 1, align: 1, want: 8},
		{size: 1, align: 1, wantErr: true},
	})
}

func TestStateLargerThanCapacity(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"empty", State{}},
		{"wrapped", State{Head: 32, Tail: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.state
			if _, err := s.Alloc(128, 256, 1); !errors.Is(err, ErrNoSpace) {
				t.Errorf("Alloc(256) on capacity 128 = %v, want ErrNoSpace", err)
			}
			if s != tt.state {
				t.Errorf("failed Alloc mutated state: %+v -> %+v", tt.state, s)
			}
		})
	}
}

func TestStatePanicsOnBadRequest(t *testing.T) {
	tests := []struct {
		name        string
		size, align uint64
	}{
		{"zero size", 0, 1},
		{"zero align", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			var s State
			_, _ = s.Alloc(16, tt.size, tt.align)
		})
	}
}
