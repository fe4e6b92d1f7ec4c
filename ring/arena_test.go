// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import (
	"errors"
	"testing"
)

func TestArena(t *testing.T) {
	a := NewArena(16)
	tests := []struct {
		size, align uint64
		want        uint64
		wantErr     bool
	}{
		{size: 3, align: 1, want: 0},
		{size: 4, align: 4, want: 4},
		{size: 16, align: 8, wantErr: true},
		{size: 8, align: 1, want: 8},
		{size: 1, align: 1, wantErr: true},
	}
	for i, tt := range tests {
		got, err := a.Alloc(tt.size, tt.align)
		if tt.wantErr {
			if !errors.Is(err, ErrNoSpace) {
				t.Fatalf("step %d: Alloc = %d, %v; want ErrNoSpace", i, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("step %d: Alloc = %d, %v; want %d", i, got, err, tt.want)
		}
	}
	if a.Used() != 16 {
		t.Errorf("Used() = %d, want 16", a.Used())
	}
	a.Reset()
	if got, err := a.Alloc(16, 1); err != nil || got != 0 {
		t.Errorf("Alloc after Reset = %d, %v; want 0", got, err)
	}
	a.Grow(64)
	if a.Capacity() != 64 || a.Used() != 0 {
		t.Errorf("after Grow: Capacity=%d Used=%d", a.Capacity(), a.Used())
	}
}
