package web3

import "context"

// ChainSnapshot represents summarized network metadata for the status API.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Signer      string `json:"signer,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the chain metadata surface used outside the decision cycle.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
