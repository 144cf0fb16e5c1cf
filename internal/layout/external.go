package layout

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/idhash"
)

// External account sizes.
const (
	TwapOracleSize       = 16 + 8 + 8 + 4*16 + 4
	PriceUpdateFullSize  = idhash.DiscriminatorSize + 32 + 1 + 32 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8
	MintSize             = 82
	TokenAccountSize     = 165
	mintDecimalsOffset   = 44
	mintSupplyOffset     = 36
	tokenAccountAmountAt = 64
)

// PriceUpdateDiscriminator tags PriceUpdateV2 accounts posted by the Pyth receiver.
var PriceUpdateDiscriminator = idhash.ComputeAccountDiscriminator("PriceUpdateV2")

// Pyth verification level tags.
const (
	verificationPartial uint8 = 0
	verificationFull    uint8 = 1
)

// DecodeTwapOracle parses a pool oracle starting at offset within data.
// Field order: aggregator u128, last_updated i64, created_at i64, last_price u128,
// last_observation u128, max_observation_change_per_update u128,
// initial_observation u128, start_delay_seconds u32.
func DecodeTwapOracle(data []byte, offset int) (*domain.TwapOracle, error) {
	if offset < 0 || len(data) < offset+TwapOracleSize {
		return nil, fmt.Errorf("decode twap oracle: %w: %d bytes at offset %d", ErrInvalidSize, len(data), offset)
	}

	dec := bin.NewBorshDecoder(data[offset:])
	o := &domain.TwapOracle{}
	var err error

	if err = readU128(dec, &o.Aggregator); err != nil {
		return nil, fmt.Errorf("decode twap aggregator: %w", err)
	}
	if o.LastUpdatedTimestamp, err = dec.ReadInt64(le); err != nil {
		return nil, fmt.Errorf("decode twap last updated: %w", err)
	}
	if o.CreatedAtTimestamp, err = dec.ReadInt64(le); err != nil {
		return nil, fmt.Errorf("decode twap created at: %w", err)
	}
	for _, dst := range []*uint256.Int{
		&o.LastPrice, &o.LastObservation, &o.MaxObservationChangePerUpdate, &o.InitialObservation,
	} {
		if err = readU128(dec, dst); err != nil {
			return nil, fmt.Errorf("decode twap observation: %w", err)
		}
	}
	if o.StartDelaySeconds, err = dec.ReadUint32(le); err != nil {
		return nil, fmt.Errorf("decode twap start delay: %w", err)
	}

	return o, nil
}

// EncodeTwapOracle serializes o in the layout DecodeTwapOracle reads.
// Accumulators wider than 128 bits fail with domain.ErrArithmeticOverflow.
func EncodeTwapOracle(o *domain.TwapOracle) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, TwapOracleSize))
	enc := bin.NewBorshEncoder(buf)

	if err := writeU128(enc, &o.Aggregator); err != nil {
		return nil, fmt.Errorf("encode twap aggregator: %w", err)
	}
	if err := enc.WriteInt64(o.LastUpdatedTimestamp, le); err != nil {
		return nil, err
	}
	if err := enc.WriteInt64(o.CreatedAtTimestamp, le); err != nil {
		return nil, err
	}
	for _, v := range []*uint256.Int{
		&o.LastPrice, &o.LastObservation, &o.MaxObservationChangePerUpdate, &o.InitialObservation,
	} {
		if err := writeU128(enc, v); err != nil {
			return nil, fmt.Errorf("encode twap observation: %w", err)
		}
	}
	if err := enc.WriteUint32(o.StartDelaySeconds, le); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodePriceUpdate parses a Pyth PriceUpdateV2 account.
func DecodePriceUpdate(data []byte) (*domain.PriceUpdate, error) {
	if len(data) < PriceUpdateFullSize {
		return nil, fmt.Errorf("decode price update: %w: got %d bytes", ErrInvalidSize, len(data))
	}

	dec := bin.NewBorshDecoder(data)
	disc, err := dec.ReadNBytes(idhash.DiscriminatorSize)
	if err != nil {
		return nil, fmt.Errorf("decode price update: %w", err)
	}
	if !bytes.Equal(disc, PriceUpdateDiscriminator[:]) {
		return nil, fmt.Errorf("decode price update: %w", ErrInvalidDiscriminator)
	}

	u := &domain.PriceUpdate{}
	if err := readPubkey(dec, &u.WriteAuthority); err != nil {
		return nil, fmt.Errorf("decode price update write authority: %w", err)
	}

	level, err := dec.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("decode verification level: %w", err)
	}
	switch level {
	case verificationFull:
		u.VerificationLevel.Full = true
	case verificationPartial:
		if u.VerificationLevel.NumSignatures, err = dec.ReadUint8(); err != nil {
			return nil, fmt.Errorf("decode verification signatures: %w", err)
		}
	default:
		return nil, fmt.Errorf("decode verification level: unknown tag %d", level)
	}

	feed, err := dec.ReadNBytes(len(u.FeedID))
	if err != nil {
		return nil, fmt.Errorf("decode feed id: %w", err)
	}
	copy(u.FeedID[:], feed)

	if u.Price, err = dec.ReadInt64(le); err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}
	if u.Conf, err = dec.ReadUint64(le); err != nil {
		return nil, fmt.Errorf("decode conf: %w", err)
	}
	if u.Exponent, err = dec.ReadInt32(le); err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if u.PublishTime, err = dec.ReadInt64(le); err != nil {
		return nil, fmt.Errorf("decode publish time: %w", err)
	}
	if u.PrevPublishTime, err = dec.ReadInt64(le); err != nil {
		return nil, fmt.Errorf("decode prev publish time: %w", err)
	}
	if u.EmaPrice, err = dec.ReadInt64(le); err != nil {
		return nil, fmt.Errorf("decode ema price: %w", err)
	}
	if u.EmaConf, err = dec.ReadUint64(le); err != nil {
		return nil, fmt.Errorf("decode ema conf: %w", err)
	}
	if u.PostedSlot, err = dec.ReadUint64(le); err != nil {
		return nil, fmt.Errorf("decode posted slot: %w", err)
	}

	return u, nil
}

// EncodePriceUpdate serializes u as a PriceUpdateV2 account.
func EncodePriceUpdate(u *domain.PriceUpdate) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, PriceUpdateFullSize+1))
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteBytes(PriceUpdateDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(u.WriteAuthority[:], false); err != nil {
		return nil, err
	}
	if u.VerificationLevel.Full {
		if err := enc.WriteUint8(verificationFull); err != nil {
			return nil, err
		}
	} else {
		if err := enc.WriteUint8(verificationPartial); err != nil {
			return nil, err
		}
		if err := enc.WriteUint8(u.VerificationLevel.NumSignatures); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBytes(u.FeedID[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteInt64(u.Price, le); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(u.Conf, le); err != nil {
		return nil, err
	}
	if err := enc.WriteInt32(u.Exponent, le); err != nil {
		return nil, err
	}
	for _, v := range []int64{u.PublishTime, u.PrevPublishTime, u.EmaPrice} {
		if err := enc.WriteInt64(v, le); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteUint64(u.EmaConf, le); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(u.PostedSlot, le); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeMint reads the supply and decimals of an SPL mint account.
func DecodeMint(data []byte) (supply uint64, decimals uint8, err error) {
	if len(data) < MintSize {
		return 0, 0, fmt.Errorf("decode mint: %w: got %d bytes", ErrInvalidSize, len(data))
	}
	return le.Uint64(data[mintSupplyOffset:]), data[mintDecimalsOffset], nil
}

// DecodeTokenAccount reads an SPL token account.
func DecodeTokenAccount(data []byte) (*domain.TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("decode token account: %w: got %d bytes", ErrInvalidSize, len(data))
	}

	acct := &domain.TokenAccount{}
	copy(acct.Mint[:], data[0:32])
	copy(acct.Owner[:], data[32:64])
	acct.Amount = le.Uint64(data[tokenAccountAmountAt:])
	return acct, nil
}

// readU128 reads a little-endian u128 into dst.
func readU128(dec *bin.Decoder, dst *uint256.Int) error {
	b, err := dec.ReadNBytes(16)
	if err != nil {
		return err
	}
	var be [16]byte
	for i := range b {
		be[15-i] = b[i]
	}
	dst.SetBytes(be[:])
	return nil
}

// writeU128 writes v as a little-endian u128.
func writeU128(enc *bin.Encoder, v *uint256.Int) error {
	if v.BitLen() > 128 {
		return domain.ErrArithmeticOverflow
	}
	be := v.Bytes32()
	var out [16]byte
	for i := 0; i < 16; i++ {
		out[i] = be[31-i]
	}
	return enc.WriteBytes(out[:], false)
}
