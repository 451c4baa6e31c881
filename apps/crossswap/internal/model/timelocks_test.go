package model

import (
	"errors"
	"github.com/holiman/uint256"
	"testing"
)

func sampleTimelocks() Timelocks {
	return Timelocks{
		SrcWithdrawal:         10,
		SrcPublicWithdrawal:   120,
		SrcCancellation:       1200,
		SrcPublicCancellation: 1500,
		DstWithdrawal:         5,
		DstPublicWithdrawal:   100,
		DstCancellation:       900,
	}
}

func TestTimelocksPackLayout(t *testing.T) {
	tl := sampleTimelocks()
	word := tl.Pack()

	for stage := SrcWithdrawal; stage <= DstCancellation; stage++ {
		field := new(uint256.Int).Rsh(word, uint(stage)*32)
		field.And(field, uint256.NewInt(0xffffffff))
		if got := uint32(field.Uint64()); got != tl.Get(stage) {
			t.Errorf("%s at bits %d: got %d, want %d", stage, uint(stage)*32, got, tl.Get(stage))
		}
	}

	if low := uint32(word.Uint64()); low != tl.SrcWithdrawal {
		t.Errorf("bits 0-31 = %d, want src_withdrawal %d", low, tl.SrcWithdrawal)
	}
	if word.BitLen() > 224 {
		t.Errorf("packed word uses %d bits, want at most 224", word.BitLen())
	}

	if got := UnpackTimelocks(word); got != tl {
		t.Errorf("UnpackTimelocks = %+v, want %+v", got, tl)
	}
}

func TestTimelocksPackMaxValues(t *testing.T) {
	tl := Timelocks{
		SrcWithdrawal: 0xffffffff, SrcPublicWithdrawal: 1, SrcCancellation: 0xffffffff,
		SrcPublicCancellation: 2, DstWithdrawal: 0xffffffff, DstPublicWithdrawal: 3, DstCancellation: 0xffffffff,
	}
	if got := UnpackTimelocks(tl.Pack()); got != tl {
		t.Errorf("UnpackTimelocks = %+v, want %+v", got, tl)
	}
}

func TestTimelocksValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Timelocks)
		buffer  uint32
		wantErr bool
	}{
		{name: "Valid", mutate: func(*Timelocks) {}, buffer: 300},
		{name: "BufferTooLarge", mutate: func(*Timelocks) {}, buffer: 301, wantErr: true},
		{name: "DstNotBeforeSrc", mutate: func(tl *Timelocks) { tl.DstCancellation = 1200 }, wantErr: true},
		{name: "SrcCancelBeforePublicWithdrawal", mutate: func(tl *Timelocks) { tl.SrcCancellation = 100 }, wantErr: true},
		{name: "SrcPublicCancelBeforeCancel", mutate: func(tl *Timelocks) { tl.SrcPublicCancellation = 1100 }, wantErr: true},
		{name: "DstWithdrawalAfterPublic", mutate: func(tl *Timelocks) { tl.DstWithdrawal = 200 }, wantErr: true},
		{name: "ImmediateWithdrawal", mutate: func(tl *Timelocks) { tl.SrcWithdrawal, tl.DstWithdrawal = 0, 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := sampleTimelocks()
			tt.mutate(&tl)
			err := tl.Validate(tt.buffer)
			if tt.wantErr && !errors.Is(err, ErrInvalidTimelocks) {
				t.Errorf("expected ErrInvalidTimelocks, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
