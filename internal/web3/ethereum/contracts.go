package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const intentNFTABI = `[
  {"type":"function","name":"totalIntents","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getIntents","stateMutability":"view",
   "inputs":[{"name":"intentIds","type":"uint256[]"}],
   "outputs":[{"name":"intents","type":"tuple[]","components":[
     {"name":"owner","type":"address"},
     {"name":"expire","type":"uint256"},
     {"name":"poolIds","type":"uint256[]"}]}]}
]`

const positionComponents = `[
  {"name":"number","type":"uint256"},
  {"name":"numberMax","type":"uint256"},
  {"name":"priceMin","type":"uint256"},
  {"name":"liquidity","type":"uint256"},
  {"name":"qty","type":"uint256"},
  {"name":"price","type":"uint256"},
  {"name":"feeQty","type":"uint256"},
  {"name":"feePrice","type":"uint256"}]`

const poolsNFTABI = `[
  {"type":"function","name":"getPositions","stateMutability":"view",
   "inputs":[{"name":"poolId","type":"uint256"}],
   "outputs":[
     {"name":"long","type":"tuple","components":` + positionComponents + `},
     {"name":"hedge","type":"tuple","components":` + positionComponents + `}]},
  {"type":"function","name":"grindOp","stateMutability":"nonpayable",
   "inputs":[{"name":"poolId","type":"uint256"},{"name":"op","type":"uint8"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const grinderAIABI = `[
  {"type":"function","name":"batchGrindOp","stateMutability":"nonpayable",
   "inputs":[{"name":"poolIds","type":"uint256[]"},{"name":"ops","type":"uint8[]"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	intentNFT = mustParseABI(intentNFTABI)
	poolsNFT  = mustParseABI(poolsNFTABI)
	grinderAI = mustParseABI(grinderAIABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("invalid contract abi: " + err.Error())
	}
	return parsed
}
