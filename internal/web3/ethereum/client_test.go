package ethereum

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"GrinderAI-Chain/internal/grind"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	testIntentNFT = "0x1000000000000000000000000000000000000001"
	testPoolsNFT  = "0x2000000000000000000000000000000000000002"
	testGrinderAI = "0x3000000000000000000000000000000000000003"
)

type revertError struct{}

func (revertError) Error() string          { return "execution reverted" }
func (revertError) ErrorCode() int         { return 3 }
func (revertError) ErrorData() interface{} { return "0x" }

// nodeError mimics a JSON-RPC server error that carries data but is not a revert.
type nodeError struct{}

func (nodeError) Error() string          { return "header not found" }
func (nodeError) ErrorCode() int         { return -32000 }
func (nodeError) ErrorData() interface{} { return "0x" }

// fakeBackend answers eth_call by method selector and records sent transactions.
type fakeBackend struct {
	mu       sync.Mutex
	handlers map[string]func(args []any) ([]byte, error)
	gas      uint64
	gasPrice *big.Int
	nonce    uint64
	chainID  *big.Int
	sent     []*coretypes.Transaction
	calls    []gethcore.CallMsg
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		handlers: map[string]func(args []any) ([]byte, error){},
		gas:      210_000,
		gasPrice: big.NewInt(20_000_000_000),
		nonce:    7,
		chainID:  big.NewInt(42161),
	}
}

func (f *fakeBackend) handle(contract abi.ABI, method string, fn func(args []any) ([]byte, error)) {
	f.handlers[string(contract.Methods[method].ID)] = fn
}

func (f *fakeBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()

	for _, contract := range []abi.ABI{intentNFT, poolsNFT, grinderAI} {
		method, err := contract.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		handler, ok := f.handlers[string(method.ID)]
		if !ok {
			return nil, errors.New("unexpected call " + method.Name)
		}
		return handler(args)
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return f.gas, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 255, nil
}

func newTestClient(t *testing.T, backend Backend) (*Client, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := NewClientWithBackend(backend, Config{
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		IntentNFT:  testIntentNFT,
		PoolsNFT:   testPoolsNFT,
		GrinderAI:  testGrinderAI,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, crypto.PubkeyToAddress(key.PublicKey)
}

func mustPack(t *testing.T, contract abi.ABI, method string, values ...any) []byte {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s outputs: %v", method, err)
	}
	return out
}

func TestClientReadsIntentsAndPositions(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, signer := newTestClient(t, backend)

	backend.handle(intentNFT, "totalIntents", func([]any) ([]byte, error) {
		return mustPack(t, intentNFT, "totalIntents", big.NewInt(12)), nil
	})
	backend.handle(intentNFT, "getIntents", func(args []any) ([]byte, error) {
		ids := args[0].([]*big.Int)
		tuples := make([]intentTuple, len(ids))
		for i, id := range ids {
			tuples[i] = intentTuple{
				Owner:   common.HexToAddress("0xbeef"),
				Expire:  big.NewInt(1_900_000_000),
				PoolIds: []*big.Int{new(big.Int).Mul(id, big.NewInt(10)), big.NewInt(99)},
			}
		}
		return mustPack(t, intentNFT, "getIntents", tuples), nil
	})
	backend.handle(poolsNFT, "getPositions", func(args []any) ([]byte, error) {
		id := args[0].(*big.Int)
		long := positionTuple{
			Number: big.NewInt(3), NumberMax: big.NewInt(5), PriceMin: big.NewInt(1),
			Liquidity: big.NewInt(2), Qty: id, Price: big.NewInt(4), FeeQty: big.NewInt(5), FeePrice: big.NewInt(6),
		}
		hedge := positionTuple{
			Number: big.NewInt(0), NumberMax: big.NewInt(4), PriceMin: big.NewInt(0),
			Liquidity: big.NewInt(0), Qty: big.NewInt(0), Price: big.NewInt(0), FeeQty: big.NewInt(0), FeePrice: big.NewInt(0),
		}
		return mustPack(t, poolsNFT, "getPositions", long, hedge), nil
	})

	ctx := context.Background()
	total, err := client.TotalIntents(ctx)
	if err != nil || total != 12 {
		t.Fatalf("total intents = %d, %v", total, err)
	}

	intents, err := client.GetIntents(ctx, []uint64{4, 5})
	if err != nil {
		t.Fatalf("get intents: %v", err)
	}
	if len(intents) != 2 || intents[1].ID != 5 || intents[1].PoolIDs[0] != 50 || intents[1].PoolIDs[1] != 99 {
		t.Fatalf("unexpected intents %+v", intents)
	}

	state, err := client.GetPositions(ctx, 77)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if state.Long.Count != 3 || state.Long.MaxCount != 5 || state.Hedge.MaxCount != 4 {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.Long.Quantity.Uint64() != 77 || state.Long.FeePrice.Uint64() != 6 {
		t.Fatalf("auxiliary fields not carried: %+v", state.Long)
	}

	for _, msg := range backend.calls {
		if msg.From != signer {
			t.Fatalf("call sent from %s, want %s", msg.From.Hex(), signer.Hex())
		}
	}
}

func TestClientRejectsOversizedCounts(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, _ := newTestClient(t, backend)
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	zero := big.NewInt(0)
	backend.handle(poolsNFT, "getPositions", func([]any) ([]byte, error) {
		track := positionTuple{Number: huge, NumberMax: zero, PriceMin: zero, Liquidity: zero, Qty: zero, Price: zero, FeeQty: zero, FeePrice: zero}
		return mustPack(t, poolsNFT, "getPositions", track, track), nil
	})

	if _, err := client.GetPositions(context.Background(), 1); err == nil {
		t.Fatal("expected oversized count to fail")
	}
}

func TestCanApplyClassifiesReverts(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, _ := newTestClient(t, backend)
	transport := errors.New("connection reset by peer")
	backend.handle(poolsNFT, "grindOp", func(args []any) ([]byte, error) {
		poolID := args[0].(*big.Int).Uint64()
		op := args[1].(uint8)
		switch {
		case poolID == 1 && op == uint8(grind.OpHedgeSell):
			return mustPack(t, poolsNFT, "grindOp", true), nil
		case poolID == 1:
			return nil, revertError{}
		default:
			return nil, transport
		}
	})

	ctx := context.Background()
	ok, err := client.CanApply(ctx, 1, grind.OpHedgeRebuy)
	if err != nil || ok {
		t.Fatalf("revert should be a negative answer, got %v, %v", ok, err)
	}
	ok, err = client.CanApply(ctx, 1, grind.OpHedgeSell)
	if err != nil || !ok {
		t.Fatalf("expected success, got %v, %v", ok, err)
	}
	if _, err = client.CanApply(ctx, 2, grind.OpLongBuy); !errors.Is(err, transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestApplyBatchSignsLegacyTransaction(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, signer := newTestClient(t, backend)
	backend.handle(grinderAI, "batchGrindOp", func(args []any) ([]byte, error) {
		if len(args[0].([]*big.Int)) != len(args[1].([]uint8)) {
			return nil, revertError{}
		}
		return mustPack(t, grinderAI, "batchGrindOp", true), nil
	})

	var batch grind.ValidatedBatch
	batch.Append(10, grind.OpLongBuy)
	batch.Append(12, grind.OpHedgeRebuy)

	ctx := context.Background()
	ok, err := client.CanApplyBatch(ctx, batch)
	if err != nil || !ok {
		t.Fatalf("batch simulation: %v, %v", ok, err)
	}
	gas, err := client.EstimateBatchCost(ctx, batch)
	if err != nil || gas != 210_000 {
		t.Fatalf("estimate: %d, %v", gas, err)
	}

	hash, err := client.ApplyBatch(ctx, batch, 294_000)
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Hash().Hex() != hash {
		t.Fatalf("hash mismatch %s != %s", tx.Hash().Hex(), hash)
	}
	if tx.Gas() != 294_000 || tx.Nonce() != 7 || tx.GasPrice().Cmp(backend.gasPrice) != 0 {
		t.Fatalf("unexpected tx fields gas=%d nonce=%d price=%s", tx.Gas(), tx.Nonce(), tx.GasPrice())
	}
	if *tx.To() != common.HexToAddress(testGrinderAI) {
		t.Fatalf("unexpected recipient %s", tx.To().Hex())
	}
	from, err := coretypes.Sender(coretypes.LatestSignerForChainID(backend.chainID), tx)
	if err != nil || from != signer {
		t.Fatalf("unexpected sender %s, %v", from.Hex(), err)
	}

	method := grinderAI.Methods["batchGrindOp"]
	if !bytes.Equal(tx.Data()[:4], method.ID) {
		t.Fatal("unexpected selector")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	ops := args[1].([]uint8)
	if len(ops) != 2 || ops[0] != 0 || ops[1] != 3 {
		t.Fatalf("unexpected ops %v", ops)
	}
}

func TestFetchChainSnapshot(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, signer := newTestClient(t, backend)

	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ChainID != "0xa4b1" || snapshot.BlockNumber != "0xff" || snapshot.Signer != signer.Hex() {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestNewClientWithBackendValidatesConfig(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	if _, err := NewClientWithBackend(backend, Config{PrivateKey: "zz"}); err == nil {
		t.Fatal("expected invalid key error")
	}

	key, _ := crypto.GenerateKey()
	_, err := NewClientWithBackend(backend, Config{
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		IntentNFT:  testIntentNFT,
		PoolsNFT:   "not-an-address",
		GrinderAI:  testGrinderAI,
	})
	if err == nil {
		t.Fatal("expected invalid address error")
	}
}

func TestIsRevert(t *testing.T) {
	t.Parallel()

	if !IsRevert(revertError{}) {
		t.Fatal("error code 3 should be a revert")
	}
	if !IsRevert(fmt.Errorf("调用 grindOp 失败: %w", revertError{})) {
		t.Fatal("wrapped revert should be a revert")
	}
	if !IsRevert(errors.New("execution reverted: NotEligible()")) {
		t.Fatal("revert message should be a revert")
	}
	if IsRevert(nodeError{}) {
		t.Fatal("node errors carrying data are not reverts")
	}
	if IsRevert(errors.New("i/o timeout")) || IsRevert(nil) {
		t.Fatal("transport errors are not reverts")
	}
}

// jsonRPCErrorServer answers every JSON-RPC request with the given error object.
func jsonRPCErrorServer(t *testing.T, code int, message string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": code, "message": message, "data": "0x"},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newRPCClient(t *testing.T, url string) *Client {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := NewClient(context.Background(), Config{
		RPCURL:     url,
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		IntentNFT:  testIntentNFT,
		PoolsNFT:   testPoolsNFT,
		GrinderAI:  testGrinderAI,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestSimulationNodeErrorIsNotANegativeAnswer(t *testing.T) {
	t.Parallel()

	server := jsonRPCErrorServer(t, -32005, "rate limit exceeded")
	client := newRPCClient(t, server.URL)
	ctx := context.Background()

	ok, err := client.CanApply(ctx, 1, grind.OpLongSell)
	if err == nil {
		t.Fatalf("rate limit must surface as an error, got ok=%v", ok)
	}
	if IsRevert(err) {
		t.Fatalf("rate limit classified as revert: %v", err)
	}

	var batch grind.ValidatedBatch
	batch.Append(1, grind.OpLongSell)
	if _, err := client.CanApplyBatch(ctx, batch); err == nil {
		t.Fatal("rate limit on batch simulation must surface as an error")
	}
}

func TestSimulationRevertOverJSONRPC(t *testing.T) {
	t.Parallel()

	server := jsonRPCErrorServer(t, 3, "execution reverted: NotEligible()")
	client := newRPCClient(t, server.URL)

	ok, err := client.CanApply(context.Background(), 1, grind.OpLongSell)
	if err != nil || ok {
		t.Fatalf("revert should be a negative answer, got %v, %v", ok, err)
	}
}
