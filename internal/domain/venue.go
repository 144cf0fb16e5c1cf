package domain

import "futarchy-lobbyist/internal/solana"

// Dao is the governance record supplied by the DAO program.
type Dao struct {
	Address   solana.Pubkey
	BaseMint  solana.Pubkey
	QuoteMint solana.Pubkey
	SpotPool  solana.Pubkey
}

// ProposalState mirrors the governance program's proposal lifecycle.
type ProposalState string

// Proposal states
const (
	ProposalDraft    ProposalState = "draft"
	ProposalPending  ProposalState = "pending"
	ProposalPassed   ProposalState = "passed"
	ProposalFailed   ProposalState = "failed"
	ProposalExecuted ProposalState = "executed"
)

// Proposal is a decision-market proposal supplied by the DAO program.
type Proposal struct {
	Address  solana.Pubkey
	Dao      solana.Pubkey
	State    ProposalState
	PassPool solana.Pubkey
	FailPool solana.Pubkey
}

// Pool is a constant-product pool record supplied by the AMM collaborator.
type Pool struct {
	Address   solana.Pubkey
	BaseMint  solana.Pubkey
	QuoteMint solana.Pubkey
	Oracle    TwapOracle
}
