// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package babbler

import (
	"bytes"
	"testing"

	"github.com/bit-babbler/seedd/internal/qa"
)

// TestFold exercises the acquisition worker's fold step directly against
// qa.FoldBytes, the primitive Worker.Run calls between each read and QA
// check.
func TestFold(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		folds uint
		want  []byte
	}{
		{
			name:  "fold once",
			input: []byte{0xA5, 0x5A, 0xFF, 0x00},
			folds: 1,
			want:  []byte{0x5A, 0x5A},
		},
		{
			name:  "fold twice",
			input: []byte{0xA5, 0x5A, 0xFF, 0x00},
			folds: 2,
			want:  []byte{0x00},
		},
		{
			name:  "no folding is a no-op",
			input: []byte{0x01, 0x02, 0x03, 0x04},
			folds: 0,
			want:  []byte{0x01, 0x02, 0x03, 0x04},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), tt.input...)
			n := qa.FoldBytes(buf, tt.folds)
			if !bytes.Equal(buf[:n], tt.want) {
				t.Fatalf("FoldBytes(%v, %d) = %v, want %v", tt.input, tt.folds, buf[:n], tt.want)
			}
		})
	}
}

func TestFoldPanicsOnBadLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected FoldBytes to panic on a length that can't fold that many times")
		}
	}()
	qa.FoldBytes(make([]byte, 3), 2)
}
