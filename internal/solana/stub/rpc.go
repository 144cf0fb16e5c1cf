package stub

import (
	"context"
	"sync"

	"futarchy-lobbyist/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu        sync.RWMutex
	Accounts  map[solana.Pubkey]*solana.AccountInfo
	Slot      int64
	BlockTime int64
	Err       error // returned by every call when set
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts: make(map[solana.Pubkey]*solana.AccountInfo),
	}
}

// SetAccount stores data owned by owner at addr.
func (c *RPCClient) SetAccount(addr, owner solana.Pubkey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[addr] = &solana.AccountInfo{
		Address: addr,
		Owner:   owner,
		Data:    append([]byte(nil), data...),
		Slot:    c.Slot,
	}
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, addr solana.Pubkey) (*solana.AccountInfo, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyInfo(c.Accounts[addr]), nil
}

// GetMultipleAccounts returns stored accounts in request order.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, addrs []solana.Pubkey) ([]*solana.AccountInfo, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*solana.AccountInfo, len(addrs))
	for i, a := range addrs {
		out[i] = copyInfo(c.Accounts[a])
	}
	return out, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(context.Context) (int64, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	return c.Slot, nil
}

// GetBlockTime returns the configured block time for any slot.
func (c *RPCClient) GetBlockTime(context.Context, int64) (*int64, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	t := c.BlockTime
	return &t, nil
}

func copyInfo(info *solana.AccountInfo) *solana.AccountInfo {
	if info == nil {
		return nil
	}
	cp := *info
	cp.Data = append([]byte(nil), info.Data...)
	return &cp
}

var _ solana.RPCClient = (*RPCClient)(nil)
