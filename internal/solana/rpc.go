package solana

import "context"

// RPCClient defines the Solana RPC HTTP reads used to fetch live accounts.
type RPCClient interface {
	// GetAccountInfo retrieves one account. Returns nil, nil if the account does not exist.
	GetAccountInfo(ctx context.Context, addr Pubkey) (*AccountInfo, error)

	// GetMultipleAccounts retrieves accounts in request order.
	// Missing accounts are nil entries.
	GetMultipleAccounts(ctx context.Context, addrs []Pubkey) ([]*AccountInfo, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetBlockTime retrieves the estimated production time of a block.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}

// AccountInfo is a decoded Solana account.
type AccountInfo struct {
	Address    Pubkey
	Lamports   uint64
	Owner      Pubkey
	Data       []byte
	Executable bool
	RentEpoch  uint64
	Slot       int64 // context slot the read was served at
}
