package domain

import "errors"

// Ledger errors. Every error is terminal for the operation that returned it.
var (
	// Identity and cross-reference mismatches.
	ErrInvalidDao           = errors.New("InvalidDao: dao does not match the lobbyist or proposal binding")
	ErrInvalidProposal      = errors.New("InvalidProposal: proposal or its pools do not match")
	ErrInvalidProposalState = errors.New("InvalidProposalState: proposal is not pending")
	ErrInvalidBaseMint      = errors.New("InvalidBaseMint: base mint does not match")
	ErrInvalidQuoteMint     = errors.New("InvalidQuoteMint: quote mint does not match")
	ErrInvalidDepositor     = errors.New("InvalidDepositor: signer is not the escrow depositor")
	ErrInvalidDerivation    = errors.New("InvalidDerivation: address does not match its canonical derivation")

	// Arithmetic.
	ErrArithmeticOverflow  = errors.New("ArithmeticOverflow: balance or price overflow")
	ErrInsufficientBalance = errors.New("InsufficientBalance: amount exceeds custodied balance")

	// Oracle validation.
	ErrLastUpdateTooRecent     = errors.New("LastUpdateTooRecent: oracle not updated since the twap window started")
	ErrNotEnoughTimePassed     = errors.New("NotEnoughTimePassed: twap window has zero length")
	ErrInvalidOracleAggregator = errors.New("InvalidOracleAggregator: aggregator is zero")
	ErrGetPythPrice            = errors.New("GetPythPrice: price attestation rejected")
	ErrMissingPrice            = errors.New("MissingPrice: reading is missing a required price")
	ErrUnsupportedSource       = errors.New("UnsupportedPriceSource: account is not a known price source")

	// State.
	ErrEscrowInactive     = errors.New("EscrowInactive: escrow is not active")
	ErrNotInitialized     = errors.New("NotInitialized: account does not exist")
	ErrAlreadyInitialized = errors.New("AlreadyInitialized: account already exists")
	ErrInvalidThreshold   = errors.New("InvalidThreshold: threshold exceeds 10000 bps")
	ErrVariantMismatch    = errors.New("VariantMismatch: record schema variant differs from deployment")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidDao, "InvalidDao"},
	{ErrInvalidProposal, "InvalidProposal"},
	{ErrInvalidProposalState, "InvalidProposalState"},
	{ErrInvalidBaseMint, "InvalidBaseMint"},
	{ErrInvalidQuoteMint, "InvalidQuoteMint"},
	{ErrInvalidDepositor, "InvalidDepositor"},
	{ErrInvalidDerivation, "InvalidDerivation"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrLastUpdateTooRecent, "LastUpdateTooRecent"},
	{ErrNotEnoughTimePassed, "NotEnoughTimePassed"},
	{ErrInvalidOracleAggregator, "InvalidOracleAggregator"},
	{ErrGetPythPrice, "GetPythPrice"},
	{ErrMissingPrice, "MissingPrice"},
	{ErrUnsupportedSource, "UnsupportedPriceSource"},
	{ErrEscrowInactive, "EscrowInactive"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrInvalidThreshold, "InvalidThreshold"},
	{ErrVariantMismatch, "VariantMismatch"},
}

// ErrorCode returns the short code of the ledger error wrapped by err,
// or "Internal" when err is not a ledger error.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}
