package fetcher

import (
	"context"
	"encoding/json"
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
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`
)

// gramsPerTroyOunce converts the feed's per-ounce answer to per-gram.
var gramsPerTroyOunce = decimal.RequireFromString("31.1034768")

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed fetcher.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// Chainlink reads the XAU/USD price from a Chainlink aggregator feed.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds a new on-chain price fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// FetchPrice retrieves the latest feed round and derives the 24k gram price.
func (c *Chainlink) FetchPrice(ctx context.Context) (PriceQuote, error) {
	if c.opts.RPCURL == "" {
		return PriceQuote{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.FeedAddress == "" {
		return PriceQuote{}, errors.New("feed contract address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return PriceQuote{}, err
	}

	addr := common.HexToAddress(c.opts.FeedAddress)

	feedDecimals, err := c.callDecimals(ctx, client, addr)
	if err != nil {
		return PriceQuote{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return PriceQuote{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return PriceQuote{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return PriceQuote{}, err
	}
	if len(outputs) != 5 {
		return PriceQuote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return PriceQuote{}, errors.New("failed to decode feed answer")
	}
	if answer.Sign() <= 0 {
		return PriceQuote{}, errors.New("feed returned non-positive answer")
	}

	roundID, _ := outputs[0].(*big.Int)
	updatedAt, _ := outputs[3].(*big.Int)

	ounce := decimal.NewFromBigInt(answer, -int32(feedDecimals))
	gram24 := ounce.Div(gramsPerTroyOunce)

	raw, err := json.Marshal(feedPayload{
		Feed:      c.opts.FeedAddress,
		RoundID:   bigString(roundID),
		Answer:    answer.String(),
		Decimals:  feedDecimals,
		UpdatedAt: bigString(updatedAt),
	})
	if err != nil {
		return PriceQuote{}, err
	}

	return PriceQuote{
		PriceOunce:  ounce,
		PriceGram24: gram24,
		Currency:    "USD",
		Metal:       "XAU",
		Raw:         raw,
	}, nil
}

func (c *Chainlink) callDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}

	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	feedDecimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode feed decimals")
	}
	return feedDecimals, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

type feedPayload struct {
	Feed      string `json:"feed"`
	RoundID   string `json:"round_id"`
	Answer    string `json:"answer"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt string `json:"updated_at"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

var _ PriceFetcher = (*Chainlink)(nil)
