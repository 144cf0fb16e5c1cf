package layout

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
)

// postedPriceUpdate is a SOL/USD PriceUpdateV2 account captured from mainnet.
const postedPriceUpdate = "IvEjY51+9M1gMUcENA3t3zcf1CRyFI8kjp0abRpesqw6zYt/1dayQwHvDYtv2izrpB2hXUCV0do5Kg0vjtDGx7wPTPrIwoC1baNqsW0EAAAAe0o5AQAAAAD4////kkOfaAAAAACSQ59oAAAAAGwglXoEAAAAZ93aAAAAAAD+w3gVAAAAAAA="

func key(name string) solana.Pubkey {
	return solana.Pubkey(sha256.Sum256([]byte(name)))
}

func mustCodec(t *testing.T, v domain.Variant) *Codec {
	t.Helper()
	c, err := NewCodec(v)
	if err != nil {
		t.Fatalf("NewCodec(%s): %v", v, err)
	}
	return c
}

func TestCodec_Escrow(t *testing.T) {
	codec := mustCodec(t, domain.VariantPyth)

	var feed domain.FeedID
	feedKey := key("feed")
	copy(feed[:], feedKey[:])

	e := domain.NewEscrow(domain.VariantPyth, 253, key("lobbyist"), key("proposal"), key("depositor"), feed)
	e.BaseAmount = 500
	e.QuoteAmount = 1<<64 - 1
	e.PassBaseAmount = 7
	e.FailQuoteAmount = 9
	e.Active = true
	e.BullishThresholdBps = 250
	e.BearishThresholdBps = 10_000

	data, err := codec.EncodeEscrow(e)
	if err != nil {
		t.Fatalf("EncodeEscrow: %v", err)
	}
	if len(data) != EscrowSize {
		t.Fatalf("encoded size = %d, want %d", len(data), EscrowSize)
	}

	got, err := codec.DecodeEscrow(data)
	if err != nil {
		t.Fatalf("DecodeEscrow: %v", err)
	}
	if *got != *e {
		t.Errorf("decoded escrow = %+v, want %+v", got, e)
	}
}

func TestCodec_Lobbyist(t *testing.T) {
	codec := mustCodec(t, domain.VariantConditional)

	l := &domain.Lobbyist{
		Variant:       domain.VariantConditional,
		Bump:          255,
		Dao:           key("dao"),
		SpotMarket:    key("spot"),
		PassMarket:    key("pass"),
		FailMarket:    key("fail"),
		BaseMint:      key("base"),
		QuoteMint:     key("quote"),
		PassBaseMint:  key("pBase"),
		PassQuoteMint: key("pQuote"),
		FailBaseMint:  key("fBase"),
		FailQuoteMint: key("fQuote"),
	}

	data, err := codec.EncodeLobbyist(l)
	if err != nil {
		t.Fatalf("EncodeLobbyist: %v", err)
	}
	if len(data) != LobbyistSize {
		t.Fatalf("encoded size = %d, want %d", len(data), LobbyistSize)
	}

	got, err := codec.DecodeLobbyist(data)
	if err != nil {
		t.Fatalf("DecodeLobbyist: %v", err)
	}
	if *got != *l {
		t.Errorf("decoded lobbyist = %+v, want %+v", got, l)
	}
}

func TestCodec_Rejects(t *testing.T) {
	spot := mustCodec(t, domain.VariantSpot)
	pyth := mustCodec(t, domain.VariantPyth)

	e := domain.NewEscrow(domain.VariantSpot, 1, key("l"), solana.Pubkey{}, key("d"), domain.FeedID{})
	data, err := spot.EncodeEscrow(e)
	if err != nil {
		t.Fatalf("EncodeEscrow: %v", err)
	}

	t.Run("variant mismatch", func(t *testing.T) {
		_, err := pyth.DecodeEscrow(data)
		if !errors.Is(err, domain.ErrVariantMismatch) {
			t.Errorf("expected ErrVariantMismatch, got %v", err)
		}
		if _, err := pyth.EncodeEscrow(e); !errors.Is(err, domain.ErrVariantMismatch) {
			t.Errorf("encode: expected ErrVariantMismatch, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := spot.DecodeEscrow(data[:len(data)-1])
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("expected ErrInvalidSize, got %v", err)
		}
	})

	t.Run("lobbyist bytes as escrow", func(t *testing.T) {
		bad := make([]byte, len(data))
		copy(bad, data)
		copy(bad, LobbyistDiscriminator[:])
		_, err := spot.DecodeEscrow(bad)
		if !errors.Is(err, ErrInvalidDiscriminator) {
			t.Errorf("expected ErrInvalidDiscriminator, got %v", err)
		}
	})

	t.Run("unknown variant", func(t *testing.T) {
		if _, err := NewCodec(domain.Variant(9)); err == nil {
			t.Error("expected error for unknown variant")
		}
	})
}

func TestDecodePriceUpdate_Posted(t *testing.T) {
	data, err := base64.StdEncoding.DecodeString(postedPriceUpdate)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	u, err := DecodePriceUpdate(data)
	if err != nil {
		t.Fatalf("DecodePriceUpdate: %v", err)
	}

	wantFeed := "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
	if got := hex.EncodeToString(u.FeedID[:]); got != wantFeed {
		t.Errorf("FeedID = %s, want %s", got, wantFeed)
	}
	if !u.VerificationLevel.Full {
		t.Error("expected full verification")
	}

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"price", u.Price, 19020212899},
		{"conf", int64(u.Conf), 20531835},
		{"exponent", int64(u.Exponent), -8},
		{"publish_time", u.PublishTime, 1755267986},
		{"prev_publish_time", u.PrevPublishTime, 1755267986},
		{"ema_price", u.EmaPrice, 19236462700},
		{"ema_conf", int64(u.EmaConf), 14343527},
		{"posted_slot", int64(u.PostedSlot), 360236030},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestPriceUpdate_PartialVerification(t *testing.T) {
	in := &domain.PriceUpdate{
		WriteAuthority:    key("authority"),
		VerificationLevel: domain.VerificationLevel{NumSignatures: 5},
		Price:             100,
		Exponent:          -2,
		PublishTime:       1000,
		PostedSlot:        42,
	}
	feedKey := key("feed")
	copy(in.FeedID[:], feedKey[:])

	data, err := EncodePriceUpdate(in)
	if err != nil {
		t.Fatalf("EncodePriceUpdate: %v", err)
	}
	if len(data) != PriceUpdateFullSize+1 {
		t.Fatalf("encoded size = %d, want %d", len(data), PriceUpdateFullSize+1)
	}

	got, err := DecodePriceUpdate(data)
	if err != nil {
		t.Fatalf("DecodePriceUpdate: %v", err)
	}
	if *got != *in {
		t.Errorf("decoded = %+v, want %+v", got, in)
	}
}

func TestDecodePriceUpdate_Rejects(t *testing.T) {
	data, _ := base64.StdEncoding.DecodeString(postedPriceUpdate)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xff
	if _, err := DecodePriceUpdate(bad); !errors.Is(err, ErrInvalidDiscriminator) {
		t.Errorf("expected ErrInvalidDiscriminator, got %v", err)
	}

	if _, err := DecodePriceUpdate(data[:40]); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestTwapOracle(t *testing.T) {
	in := &domain.TwapOracle{
		LastUpdatedTimestamp: 1_700_000_100,
		CreatedAtTimestamp:   1_700_000_000,
		StartDelaySeconds:    60,
	}
	// 2^100 exercises the upper half of the u128.
	in.Aggregator.Lsh(uint256.NewInt(1), 100)
	in.LastPrice.SetUint64(12345)
	in.InitialObservation.SetUint64(1)

	data, err := EncodeTwapOracle(in)
	if err != nil {
		t.Fatalf("EncodeTwapOracle: %v", err)
	}
	if len(data) != TwapOracleSize {
		t.Fatalf("encoded size = %d, want %d", len(data), TwapOracleSize)
	}

	// Embedded behind a 24-byte prefix as pools store it.
	pool := append(make([]byte, 24), data...)
	got, err := DecodeTwapOracle(pool, 24)
	if err != nil {
		t.Fatalf("DecodeTwapOracle: %v", err)
	}
	if !got.Aggregator.Eq(&in.Aggregator) {
		t.Errorf("Aggregator = %s, want %s", got.Aggregator.Dec(), in.Aggregator.Dec())
	}
	if got.LastUpdatedTimestamp != in.LastUpdatedTimestamp || got.CreatedAtTimestamp != in.CreatedAtTimestamp {
		t.Errorf("timestamps = %d/%d", got.LastUpdatedTimestamp, got.CreatedAtTimestamp)
	}
	if got.StartDelaySeconds != 60 || got.LastPrice.Uint64() != 12345 || got.InitialObservation.Uint64() != 1 {
		t.Errorf("decoded = %+v", got)
	}

	if _, err := DecodeTwapOracle(pool, 25); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}

	wide := &domain.TwapOracle{}
	wide.Aggregator.Lsh(uint256.NewInt(1), 128)
	if _, err := EncodeTwapOracle(wide); !errors.Is(err, domain.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestDecodeTokenAccountAndMint(t *testing.T) {
	acct := make([]byte, TokenAccountSize)
	mint, owner := key("mint"), key("owner")
	copy(acct[0:], mint[:])
	copy(acct[32:], owner[:])
	le.PutUint64(acct[64:], 777)

	got, err := DecodeTokenAccount(acct)
	if err != nil {
		t.Fatalf("DecodeTokenAccount: %v", err)
	}
	if got.Mint != mint || got.Owner != owner || got.Amount != 777 {
		t.Errorf("decoded = %+v", got)
	}

	m := make([]byte, MintSize)
	le.PutUint64(m[36:], 1_000_000)
	m[44] = 6
	supply, decimals, err := DecodeMint(m)
	if err != nil {
		t.Fatalf("DecodeMint: %v", err)
	}
	if supply != 1_000_000 || decimals != 6 {
		t.Errorf("supply/decimals = %d/%d", supply, decimals)
	}
}
