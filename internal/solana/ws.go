package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeAccount streams the account's state every time it changes.
	SubscribeAccount(ctx context.Context, addr Pubkey) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification is one accountSubscribe update.
type AccountNotification struct {
	Subscription int64
	Account      AccountInfo
}
