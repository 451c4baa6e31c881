package model

// SwapState is the relayer's view of settlement progress for one order.
type SwapState string

const (
	SwapPending         SwapState = "pending"
	SwapCommitted       SwapState = "committed"
	SwapEscrowsDeployed SwapState = "escrows_deployed"
	SwapFundsLocked     SwapState = "funds_locked"
	SwapCompleted       SwapState = "completed"
	SwapRescued         SwapState = "rescued"
	SwapCancelled       SwapState = "cancelled"
	SwapExpired         SwapState = "expired"
)

func (s SwapState) IsFinal() bool {
	return s == SwapCompleted || s == SwapCancelled || s == SwapExpired
}

// DepositToken denominates safety deposits and bonds.
const DepositToken = "native"
