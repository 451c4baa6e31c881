package chain

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// EscrowABI covers the escrow calls the relayer builds and the event it
// watches for.
const EscrowABI = `[
	{
		"type": "function",
		"name": "withdraw",
		"inputs": [
			{"internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
			{"internalType": "bytes32", "name": "secret", "type": "bytes32"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "cancel",
		"inputs": [
			{"internalType": "bytes32", "name": "orderHash", "type": "bytes32"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "Withdrawal",
		"inputs": [
			{"internalType": "bytes32", "name": "orderHash", "type": "bytes32", "indexed": true},
			{"internalType": "address", "name": "caller", "type": "address", "indexed": true},
			{"internalType": "bytes32", "name": "secret", "type": "bytes32", "indexed": false}
		]
	}
]`

var WithdrawalEventSig = crypto.Keccak256Hash([]byte("Withdrawal(bytes32,address,bytes32)"))
