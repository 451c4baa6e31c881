package model

import (
	"errors"
	"fmt"
	"github.com/holiman/uint256"
	"time"
)

var ErrInvalidTimelocks = errors.New("invalid timelocks")

type TimelockStage uint8

const (
	SrcWithdrawal TimelockStage = iota
	SrcPublicWithdrawal
	SrcCancellation
	SrcPublicCancellation
	DstWithdrawal
	DstPublicWithdrawal
	DstCancellation
)

var stageNames = [...]string{
	"src_withdrawal",
	"src_public_withdrawal",
	"src_cancellation",
	"src_public_cancellation",
	"dst_withdrawal",
	"dst_public_withdrawal",
	"dst_cancellation",
}

func (s TimelockStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Timelocks holds seven offsets, in seconds, from escrow deployment.
type Timelocks struct {
	SrcWithdrawal         uint32 `json:"src_withdrawal" yaml:"src_withdrawal"`
	SrcPublicWithdrawal   uint32 `json:"src_public_withdrawal" yaml:"src_public_withdrawal"`
	SrcCancellation       uint32 `json:"src_cancellation" yaml:"src_cancellation"`
	SrcPublicCancellation uint32 `json:"src_public_cancellation" yaml:"src_public_cancellation"`
	DstWithdrawal         uint32 `json:"dst_withdrawal" yaml:"dst_withdrawal"`
	DstPublicWithdrawal   uint32 `json:"dst_public_withdrawal" yaml:"dst_public_withdrawal"`
	DstCancellation       uint32 `json:"dst_cancellation" yaml:"dst_cancellation"`
}

func (t Timelocks) Get(stage TimelockStage) uint32 {
	switch stage {
	case SrcWithdrawal:
		return t.SrcWithdrawal
	case SrcPublicWithdrawal:
		return t.SrcPublicWithdrawal
	case SrcCancellation:
		return t.SrcCancellation
	case SrcPublicCancellation:
		return t.SrcPublicCancellation
	case DstWithdrawal:
		return t.DstWithdrawal
	case DstPublicWithdrawal:
		return t.DstPublicWithdrawal
	case DstCancellation:
		return t.DstCancellation
	}
	return 0
}

func (t *Timelocks) set(stage TimelockStage, v uint32) {
	switch stage {
	case SrcWithdrawal:
		t.SrcWithdrawal = v
	case SrcPublicWithdrawal:
		t.SrcPublicWithdrawal = v
	case SrcCancellation:
		t.SrcCancellation = v
	case SrcPublicCancellation:
		t.SrcPublicCancellation = v
	case DstWithdrawal:
		t.DstWithdrawal = v
	case DstPublicWithdrawal:
		t.DstPublicWithdrawal = v
	case DstCancellation:
		t.DstCancellation = v
	}
}

// At returns the absolute time a stage opens for an escrow deployed at deployedAt.
func (t Timelocks) At(stage TimelockStage, deployedAt time.Time) time.Time {
	return deployedAt.Add(time.Duration(t.Get(stage)) * time.Second)
}

// Pack lays the stages into one 256-bit word, stage i at bits [32i, 32i+32).
func (t Timelocks) Pack() *uint256.Int {
	word := new(uint256.Int)
	for stage := DstCancellation; ; stage-- {
		word.Lsh(word, 32)
		word.Or(word, uint256.NewInt(uint64(t.Get(stage))))
		if stage == SrcWithdrawal {
			break
		}
	}
	return word
}

func UnpackTimelocks(word *uint256.Int) Timelocks {
	var t Timelocks
	mask := uint256.NewInt(0xffffffff)
	v := word.Clone()
	for stage := SrcWithdrawal; stage <= DstCancellation; stage++ {
		field := new(uint256.Int).And(v, mask)
		t.set(stage, uint32(field.Uint64()))
		v.Rsh(v, 32)
	}
	return t
}

// Validate checks stage ordering within each side and that the destination
// cancellation opens at least buffer seconds before the source one.
func (t Timelocks) Validate(buffer uint32) error {
	if t.SrcWithdrawal > t.SrcPublicWithdrawal ||
		t.SrcPublicWithdrawal >= t.SrcCancellation ||
		t.SrcCancellation > t.SrcPublicCancellation {
		return fmt.Errorf("%w: source stages out of order", ErrInvalidTimelocks)
	}
	if t.DstWithdrawal > t.DstPublicWithdrawal || t.DstPublicWithdrawal >= t.DstCancellation {
		return fmt.Errorf("%w: destination stages out of order", ErrInvalidTimelocks)
	}
	if t.DstCancellation >= t.SrcCancellation ||
		uint64(t.DstCancellation)+uint64(buffer) > uint64(t.SrcCancellation) {
		return fmt.Errorf("%w: destination cancellation must precede source cancellation by %ds",
			ErrInvalidTimelocks, buffer)
	}
	return nil
}

// CancellationStage is the first cancellation stage of a side.
func CancellationStage(side EscrowSide) TimelockStage {
	if side == SideSource {
		return SrcCancellation
	}
	return DstCancellation
}
