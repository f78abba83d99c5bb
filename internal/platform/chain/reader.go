package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

var errEmptyReturn = errors.New("empty return data")

// BatchCaller sends JSON-RPC batches. *rpc.Client satisfies it.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// Config holds the chain reader settings.
type Config struct {
	Factory string
	// Decimals overrides the collateral token's decimals() when non-zero.
	Decimals uint8
}

// Call is one read in a batch.
type Call struct {
	Contract common.Address
	ABI      *abi.ABI
	Method   string
	Args     []any
}

// Result is the outcome of one Call. Exactly one of Values and Err is set.
type Result struct {
	Values []any
	Err    error
}

// Reader performs view calls against the market contracts. All reads for
// one purpose are sent as a single JSON-RPC batch; individual failures are
// reported per call rather than failing the batch.
type Reader struct {
	rpc     BatchCaller
	factory common.Address
	decOver uint8
	logger  *slog.Logger

	mu         sync.Mutex
	collateral *domain.Collateral
}

// Dial connects to an RPC endpoint with the given request timeout.
func Dial(ctx context.Context, url string, timeout time.Duration) (*rpc.Client, error) {
	client, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc %s: %w", url, err)
	}
	return client, nil
}

// NewReader creates a Reader over caller.
func NewReader(caller BatchCaller, cfg Config, logger *slog.Logger) *Reader {
	return &Reader{
		rpc:     caller,
		factory: common.HexToAddress(cfg.Factory),
		decOver: cfg.Decimals,
		logger:  logger.With("component", "chain_reader"),
	}
}

// Call executes calls as one batch of eth_call requests at the latest
// block. The returned slice is index-aligned with calls. A non-nil error
// means the batch itself could not be sent.
func (r *Reader) Call(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))
	raws := make([]hexutil.Bytes, len(calls))
	elems := make([]rpc.BatchElem, 0, len(calls))
	index := make([]int, 0, len(calls))

	for i, c := range calls {
		data, err := c.ABI.Pack(c.Method, c.Args...)
		if err != nil {
			results[i].Err = fmt.Errorf("pack %s: %w", c.Method, err)
			continue
		}
		elems = append(elems, rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]any{
					"to":   c.Contract,
					"data": hexutil.Bytes(data),
				},
				"latest",
			},
			Result: &raws[i],
		})
		index = append(index, i)
	}

	if len(elems) > 0 {
		if err := r.rpc.BatchCallContext(ctx, elems); err != nil {
			return nil, fmt.Errorf("chain: batch call: %w", err)
		}
	}

	for j, elem := range elems {
		i := index[j]
		c := calls[i]
		if elem.Error != nil {
			results[i].Err = fmt.Errorf("%s: %w", c.Method, elem.Error)
			continue
		}
		if len(raws[i]) == 0 {
			results[i].Err = fmt.Errorf("%s: %w", c.Method, errEmptyReturn)
			continue
		}
		vals, err := c.ABI.Unpack(c.Method, raws[i])
		if err != nil || len(vals) == 0 {
			results[i].Err = fmt.Errorf("%s: unpack: %w", c.Method, errors.Join(domain.ErrMalformedRead, err))
			continue
		}
		results[i].Values = vals
	}

	return results, nil
}

// metadataMethods is the fixed batch read for a market, in order.
var metadataMethods = []string{
	"question",
	"description",
	"category",
	"platform",
	"identifier",
	"createdAt",
	"endTime",
	"creator",
	"creatorFeeBps",
	"state",
	"optionCount",
	"totalStaked",
	"activeParticipantsCount",
	"winningOption",
}

// ReadMarket reads the full state of a market: the fixed metadata batch,
// then the option labels and per-option liquidity.
func (r *Reader) ReadMarket(ctx context.Context, market string) (domain.ReadBatch, error) {
	addr, err := parseAddress(market)
	if err != nil {
		return domain.ReadBatch{}, err
	}
	coll, err := r.ReadCollateral(ctx)
	if err != nil {
		return domain.ReadBatch{}, err
	}

	calls := make([]Call, len(metadataMethods))
	for i, m := range metadataMethods {
		calls[i] = Call{Contract: addr, ABI: &marketABI, Method: m}
	}
	res, err := r.Call(ctx, calls)
	if err != nil {
		return domain.ReadBatch{}, err
	}
	r.logFailures(market, calls, res)

	rb := domain.ReadBatch{Decimals: coll.Decimals}
	rb.Question = stringAt(res[0])
	rb.Description = stringAt(res[1])
	rb.Category = stringAt(res[2])
	rb.Platform = stringAt(res[3])
	rb.Identifier = stringAt(res[4])
	rb.CreatedAt = timeAt(res[5])
	rb.EndTime = timeAt(res[6])
	if v, ok := value[common.Address](res[7]); ok {
		s := v.Hex()
		rb.Creator = &s
	}
	if v, ok := value[*big.Int](res[8]); ok && v.IsUint64() && v.Uint64() <= 10_000 {
		bps := uint32(v.Uint64())
		rb.CreatorFeeBps = &bps
	}
	if v, ok := value[uint8](res[9]); ok {
		st, err := domain.MarketStateFromChain(v)
		if err != nil {
			return domain.ReadBatch{}, fmt.Errorf("chain: read market %s: %w", market, err)
		}
		rb.State = &st
	}
	if v, ok := value[*big.Int](res[10]); ok {
		if !v.IsInt64() || v.Sign() < 0 || v.Int64() > domain.MaxOptions {
			return domain.ReadBatch{}, fmt.Errorf("chain: read market %s: %w: optionCount %s",
				market, domain.ErrMalformedRead, v)
		}
		n := int(v.Int64())
		rb.OptionCount = &n
	}
	rb.TotalStaked = amountAt(res[11], coll.Decimals)
	if v, ok := value[*big.Int](res[12]); ok && v.IsInt64() {
		n := v.Int64()
		rb.ActiveParticipantsCount = &n
	}
	if v, ok := value[*big.Int](res[13]); ok && v.IsInt64() {
		n := int(v.Int64())
		rb.WinningOption = &n
	}

	if rb.OptionCount == nil {
		return rb, nil
	}

	calls = []Call{{Contract: addr, ABI: &marketABI, Method: "getOptions"}}
	calls = append(calls, optionLiquidityCalls(addr, *rb.OptionCount)...)
	res, err = r.Call(ctx, calls)
	if err != nil {
		return domain.ReadBatch{}, err
	}
	r.logFailures(market, calls, res)

	if v, ok := value[[]string](res[0]); ok {
		rb.Options = v
	}
	rb.OptionLiquidity = make([]*domain.Amount, *rb.OptionCount)
	for i := range rb.OptionLiquidity {
		rb.OptionLiquidity[i] = amountAt(res[i+1], coll.Decimals)
	}
	return rb, nil
}

// ReadLiquidity reads the fast-changing subset of a market's state in one
// batch.
func (r *Reader) ReadLiquidity(ctx context.Context, market string, optionCount int) (domain.LiquidityReads, error) {
	addr, err := parseAddress(market)
	if err != nil {
		return domain.LiquidityReads{}, err
	}
	if optionCount < 0 || optionCount > domain.MaxOptions {
		return domain.LiquidityReads{}, fmt.Errorf("chain: %w: option count %d", domain.ErrMalformedRead, optionCount)
	}
	coll, err := r.ReadCollateral(ctx)
	if err != nil {
		return domain.LiquidityReads{}, err
	}

	calls := []Call{
		{Contract: addr, ABI: &marketABI, Method: "totalStaked"},
		{Contract: addr, ABI: &marketABI, Method: "activeParticipantsCount"},
		{Contract: addr, ABI: &marketABI, Method: "state"},
		{Contract: addr, ABI: &marketABI, Method: "winningOption"},
	}
	calls = append(calls, optionLiquidityCalls(addr, optionCount)...)

	res, err := r.Call(ctx, calls)
	if err != nil {
		return domain.LiquidityReads{}, err
	}

	var lr domain.LiquidityReads
	lr.TotalStaked = amountAt(res[0], coll.Decimals)
	if v, ok := value[*big.Int](res[1]); ok && v.IsInt64() {
		n := v.Int64()
		lr.ActiveParticipantsCount = &n
	}
	if v, ok := value[uint8](res[2]); ok {
		if st, err := domain.MarketStateFromChain(v); err == nil {
			lr.State = &st
		}
	}
	if v, ok := value[*big.Int](res[3]); ok && v.IsInt64() {
		n := int(v.Int64())
		lr.WinningOption = &n
	}

	lr.OptionLiquidity = make([]*domain.Amount, optionCount)
	failed := 0
	for i := range lr.OptionLiquidity {
		lr.OptionLiquidity[i] = amountAt(res[4+i], coll.Decimals)
		if lr.OptionLiquidity[i] == nil {
			failed++
		}
	}
	if lr.TotalStaked == nil && failed == optionCount {
		return domain.LiquidityReads{}, fmt.Errorf("chain: read liquidity %s: %w: every liquidity call failed",
			market, domain.ErrMalformedRead)
	}
	return lr, nil
}

// ReadCollateral returns the factory's collateral token and its precision.
// The result is cached for the life of the Reader.
func (r *Reader) ReadCollateral(ctx context.Context) (domain.Collateral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collateral != nil {
		return *r.collateral, nil
	}

	res, err := r.Call(ctx, []Call{{Contract: r.factory, ABI: &factoryABI, Method: "collateralToken"}})
	if err != nil {
		return domain.Collateral{}, err
	}
	token, ok := value[common.Address](res[0])
	if !ok {
		return domain.Collateral{}, fmt.Errorf("chain: collateral token: %w", callErr(res[0]))
	}

	decimals := r.decOver
	if decimals == 0 {
		res, err = r.Call(ctx, []Call{{Contract: token, ABI: &erc20ABI, Method: "decimals"}})
		if err != nil {
			return domain.Collateral{}, err
		}
		d, ok := value[uint8](res[0])
		if !ok {
			return domain.Collateral{}, fmt.Errorf("chain: collateral decimals: %w", callErr(res[0]))
		}
		decimals = d
	}

	c := domain.Collateral{Token: token.Hex(), Decimals: decimals}
	r.collateral = &c
	r.logger.Info("collateral resolved", "token", c.Token, "decimals", c.Decimals)
	return c, nil
}

// ReadBalance returns owner's balance of the collateral token.
func (r *Reader) ReadBalance(ctx context.Context, c domain.Collateral, owner string) (domain.Amount, error) {
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return domain.Amount{}, err
	}
	return r.readToken(ctx, c, "balanceOf", ownerAddr)
}

// ReadAllowance returns how much spender may move from owner's balance.
func (r *Reader) ReadAllowance(ctx context.Context, c domain.Collateral, owner, spender string) (domain.Amount, error) {
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return domain.Amount{}, err
	}
	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return domain.Amount{}, err
	}
	return r.readToken(ctx, c, "allowance", ownerAddr, spenderAddr)
}

func (r *Reader) readToken(ctx context.Context, c domain.Collateral, method string, args ...any) (domain.Amount, error) {
	res, err := r.Call(ctx, []Call{{
		Contract: common.HexToAddress(c.Token),
		ABI:      &erc20ABI,
		Method:   method,
		Args:     args,
	}})
	if err != nil {
		return domain.Amount{}, err
	}
	a := amountAt(res[0], c.Decimals)
	if a == nil {
		return domain.Amount{}, fmt.Errorf("chain: %w", callErr(res[0]))
	}
	return *a, nil
}

func (r *Reader) logFailures(market string, calls []Call, res []Result) {
	for i, rr := range res {
		if rr.Err != nil {
			r.logger.Debug("read failed", "market", market, "method", calls[i].Method, "error", rr.Err)
		}
	}
}

func optionLiquidityCalls(addr common.Address, n int) []Call {
	calls := make([]Call, n)
	for i := range calls {
		calls[i] = Call{
			Contract: addr,
			ABI:      &marketABI,
			Method:   "optionLiquidity",
			Args:     []any{big.NewInt(int64(i))},
		}
	}
	return calls
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: %w: invalid address %q", domain.ErrMalformedRead, s)
	}
	return common.HexToAddress(s), nil
}

// value extracts the single return value of a successful call.
func value[T any](r Result) (T, bool) {
	var zero T
	if r.Err != nil || len(r.Values) == 0 {
		return zero, false
	}
	v, ok := r.Values[0].(T)
	return v, ok
}

func callErr(r Result) error {
	if r.Err != nil {
		return r.Err
	}
	return fmt.Errorf("%w: unexpected return type", domain.ErrMalformedRead)
}

func stringAt(r Result) *string {
	v, ok := value[string](r)
	if !ok {
		return nil
	}
	return &v
}

func timeAt(r Result) *time.Time {
	v, ok := value[*big.Int](r)
	if !ok || !v.IsInt64() || v.Sign() == 0 {
		return nil
	}
	t := time.Unix(v.Int64(), 0).UTC()
	return &t
}

func amountAt(r Result, decimals uint8) *domain.Amount {
	v, ok := value[*big.Int](r)
	if !ok {
		return nil
	}
	a := domain.NewAmount(v, decimals)
	return &a
}
