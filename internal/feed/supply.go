package feed

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

const (
	erc20ABIJSON = `[
        {"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
        {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
    ]`
)

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// SupplyOptions parameterise the on-chain supply reader.
type SupplyOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// SupplyReader reads an ERC-20 token's total supply over Ethereum RPC. It is
// used to derive a market cap (price times supply) for entities whose feed
// snapshot lacks one.
type SupplyReader struct {
	opts      SupplyOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewSupplyReader builds a supply reader. The RPC connection is dialled
// lazily on first use.
func NewSupplyReader(opts SupplyOptions, logger zerolog.Logger) *SupplyReader {
	return &SupplyReader{opts: opts, logger: logger.With().Str("component", "supply_reader").Logger()}
}

// TotalSupply returns the token's supply in whole units.
func (r *SupplyReader) TotalSupply(ctx context.Context, contract string) (decimal.Decimal, error) {
	if r.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}
	if contract == "" {
		return decimal.Decimal{}, errors.New("token contract address not configured")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	addr := common.HexToAddress(contract)

	supplyRaw, err := r.callUint(ctx, client, addr, "totalSupply")
	if err != nil {
		return decimal.Decimal{}, err
	}
	decimalsRaw, err := r.callUint(ctx, client, addr, "decimals")
	if err != nil {
		return decimal.Decimal{}, err
	}

	exp := -int32(decimalsRaw.Int64())
	return decimal.NewFromBigInt(supplyRaw, exp), nil
}

// Enrich fills a snapshot's missing market cap as price times supply. A
// snapshot that already carries a cap, or an entity without a contract, is
// returned untouched. RPC failures degrade to the unenriched snapshot.
func (r *SupplyReader) Enrich(ctx context.Context, snap *market.Snapshot, contract string) *market.Snapshot {
	if snap == nil || snap.MarketCap != nil || contract == "" {
		return snap
	}

	supply, err := r.TotalSupply(ctx, contract)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("entity", snap.EntityID).
			Msg("supply lookup failed, market cap left unset")
		return snap
	}
	if !supply.IsPositive() {
		return snap
	}

	snap.MarketCap = market.DecimalPtr(snap.Price.Mul(supply))
	return snap
}

func (r *SupplyReader) callUint(ctx context.Context, client *ethclient.Client, addr common.Address, method string) (*big.Int, error) {
	payload, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected " + method + " response")
	}

	switch v := outputs[0].(type) {
	case *big.Int:
		return v, nil
	case uint8:
		return big.NewInt(int64(v)), nil
	default:
		return nil, errors.New("failed to decode " + method + " output")
	}
}

func (r *SupplyReader) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}
