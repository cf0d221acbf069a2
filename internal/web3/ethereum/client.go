package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"GrinderAI-Chain/internal/grind"
	"GrinderAI-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach the chain and the three grinder contracts.
type Config struct {
	RPCURL     string
	PrivateKey string
	IntentNFT  string
	PoolsNFT   string
	GrinderAI  string
	Notes      string
}

// Backend is the subset of ethclient.Client the grinder depends on.
type Backend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements grind.Ledger and web3.Client on top of an EVM JSON-RPC node.
type Client struct {
	backend   Backend
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	key       *ecdsa.PrivateKey
	from      common.Address
	intentNFT common.Address
	poolsNFT  common.Address
	grinderAI common.Address
	notes     string

	mu      sync.Mutex
	chainID *big.Int
}

var (
	_ grind.Ledger = (*Client)(nil)
	_ web3.Client  = (*Client)(nil)
)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client, err := NewClientWithBackend(eth, cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	client.eth = eth
	return client, nil
}

// NewClientWithBackend wires the client to an existing backend.
func NewClientWithBackend(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}

	addrs := make([]common.Address, 0, 3)
	for _, item := range []struct{ name, value string }{
		{"IntentNFT", cfg.IntentNFT},
		{"PoolsNFT", cfg.PoolsNFT},
		{"GrinderAI", cfg.GrinderAI},
	} {
		value := strings.TrimSpace(item.value)
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("%s 合约地址无效: %q", item.name, value)
		}
		addrs = append(addrs, common.HexToAddress(value))
	}

	return &Client{
		backend:   backend,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		intentNFT: addrs[0],
		poolsNFT:  addrs[1],
		grinderAI: addrs[2],
		notes:     cfg.Notes,
	}, nil
}

// Signer returns the address that signs simulations and submissions.
func (c *Client) Signer() common.Address {
	return c.from
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
		c.rpcClient = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.chainIDOf(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Signer:      c.from.Hex(),
		Notes:       c.notes,
	}, nil
}

// TotalIntents reads IntentNFT.totalIntents().
func (c *Client) TotalIntents(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.intentNFT, intentNFT, "totalIntents")
	if err != nil {
		return 0, err
	}
	total, ok := out[0].(*big.Int)
	if !ok || !total.IsUint64() {
		return 0, fmt.Errorf("totalIntents 返回值无效: %v", out[0])
	}
	return total.Uint64(), nil
}

type intentTuple struct {
	Owner   common.Address
	Expire  *big.Int
	PoolIds []*big.Int
}

// GetIntents reads IntentNFT.getIntents(ids); results are paired with ids by position.
func (c *Client) GetIntents(ctx context.Context, ids []uint64) ([]grind.Intent, error) {
	out, err := c.call(ctx, c.intentNFT, intentNFT, "getIntents", toBigInts(ids))
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]intentTuple)).(*[]intentTuple)
	if len(tuples) != len(ids) {
		return nil, fmt.Errorf("getIntents 返回 %d 条记录，期望 %d 条", len(tuples), len(ids))
	}

	intents := make([]grind.Intent, len(tuples))
	for i, tuple := range tuples {
		poolIDs, err := toUint64s(tuple.PoolIds)
		if err != nil {
			return nil, fmt.Errorf("意图 %d 的池子编号无效: %w", ids[i], err)
		}
		intents[i] = grind.Intent{ID: ids[i], PoolIDs: poolIDs}
	}
	return intents, nil
}

type positionTuple struct {
	Number    *big.Int
	NumberMax *big.Int
	PriceMin  *big.Int
	Liquidity *big.Int
	Qty       *big.Int
	Price     *big.Int
	FeeQty    *big.Int
	FeePrice  *big.Int
}

// GetPositions reads PoolsNFT.getPositions(poolId).
func (c *Client) GetPositions(ctx context.Context, poolID uint64) (grind.PoolPositionState, error) {
	out, err := c.call(ctx, c.poolsNFT, poolsNFT, "getPositions", new(big.Int).SetUint64(poolID))
	if err != nil {
		return grind.PoolPositionState{}, err
	}
	if len(out) != 2 {
		return grind.PoolPositionState{}, fmt.Errorf("getPositions 返回 %d 个值，期望 2 个", len(out))
	}

	long, err := toTrack(*abi.ConvertType(out[0], new(positionTuple)).(*positionTuple))
	if err != nil {
		return grind.PoolPositionState{}, fmt.Errorf("long 仓位无效: %w", err)
	}
	hedge, err := toTrack(*abi.ConvertType(out[1], new(positionTuple)).(*positionTuple))
	if err != nil {
		return grind.PoolPositionState{}, fmt.Errorf("hedge 仓位无效: %w", err)
	}
	return grind.PoolPositionState{Long: long, Hedge: hedge}, nil
}

// CanApply dry-runs PoolsNFT.grindOp(poolId, op) from the signer. A revert
// is a negative answer, not an error.
func (c *Client) CanApply(ctx context.Context, poolID uint64, op grind.Operation) (bool, error) {
	return c.simulate(ctx, c.poolsNFT, poolsNFT, "grindOp", new(big.Int).SetUint64(poolID), uint8(op))
}

// EstimateBatchCost estimates gas for GrinderAI.batchGrindOp.
func (c *Client) EstimateBatchCost(ctx context.Context, batch grind.ValidatedBatch) (uint64, error) {
	data, err := packBatch(batch)
	if err != nil {
		return 0, err
	}
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: c.from, To: &c.grinderAI, Data: data})
	if err != nil {
		return 0, fmt.Errorf("估算 batchGrindOp gas 失败: %w", err)
	}
	return gas, nil
}

// UnitPrice returns the node's suggested gas price in wei.
func (c *Client) UnitPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return price, nil
}

// CanApplyBatch dry-runs GrinderAI.batchGrindOp for the whole batch.
func (c *Client) CanApplyBatch(ctx context.Context, batch grind.ValidatedBatch) (bool, error) {
	return c.simulate(ctx, c.grinderAI, grinderAI, "batchGrindOp", toBigInts(batch.PoolIDs), toUint8s(batch.Ops))
}

// ApplyBatch signs and sends GrinderAI.batchGrindOp with the given gas limit.
func (c *Client) ApplyBatch(ctx context.Context, batch grind.ValidatedBatch, costCeiling uint64) (string, error) {
	data, err := packBatch(batch)
	if err != nil {
		return "", err
	}
	chainID, err := c.chainIDOf(ctx)
	if err != nil {
		return "", err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("查询交易计数失败: %w", err)
	}
	gasPrice, err := c.UnitPrice(ctx)
	if err != nil {
		return "", err
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      costCeiling,
		To:       &c.grinderAI,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("发送交易失败: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, gethcore.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s 没有返回值", method)
	}
	return out, nil
}

func (c *Client) simulate(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (bool, error) {
	out, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		if IsRevert(err) {
			return false, nil
		}
		return false, err
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("%s 返回值类型无效: %T", method, out[0])
	}
	return ok, nil
}

func (c *Client) chainIDOf(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return id, nil
}

// revertErrorCode is the JSON-RPC error code nodes use for eth_call and
// eth_estimateGas executions that reverted.
const revertErrorCode = 3

// IsRevert reports whether err is an on-chain execution revert rather than a
// transport, node or decoding failure.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func packBatch(batch grind.ValidatedBatch) ([]byte, error) {
	data, err := grinderAI.Pack("batchGrindOp", toBigInts(batch.PoolIDs), toUint8s(batch.Ops))
	if err != nil {
		return nil, fmt.Errorf("编码 batchGrindOp 调用失败: %w", err)
	}
	return data, nil
}

func toTrack(t positionTuple) (grind.PositionTrack, error) {
	if t.Number == nil || !t.Number.IsUint64() {
		return grind.PositionTrack{}, fmt.Errorf("number 超出范围: %v", t.Number)
	}
	if t.NumberMax == nil || !t.NumberMax.IsUint64() {
		return grind.PositionTrack{}, fmt.Errorf("numberMax 超出范围: %v", t.NumberMax)
	}
	return grind.PositionTrack{
		Count:       t.Number.Uint64(),
		MaxCount:    t.NumberMax.Uint64(),
		MinPrice:    t.PriceMin,
		Liquidity:   t.Liquidity,
		Quantity:    t.Qty,
		Price:       t.Price,
		FeeQuantity: t.FeeQty,
		FeePrice:    t.FeePrice,
	}, nil
}

func toBigInts(values []uint64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = new(big.Int).SetUint64(v)
	}
	return out
}

func toUint64s(values []*big.Int) ([]uint64, error) {
	out := make([]uint64, len(values))
	for i, v := range values {
		if v == nil || !v.IsUint64() {
			return nil, fmt.Errorf("数值超出范围: %v", v)
		}
		out[i] = v.Uint64()
	}
	return out, nil
}

func toUint8s(ops []grind.Operation) []uint8 {
	out := make([]uint8, len(ops))
	for i, op := range ops {
		out[i] = uint8(op)
	}
	return out
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
