// Package ethwatch monitors an EVM chain for calls into the settlement
// verifier contract.
//
// Every observed call becomes a verifier_call submission with the gas
// and calldata shape attached, so the scorer can pick up verification
// bursts that front-run large settlements.
package ethwatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/metrics"
)

// Submitter accepts raw signal payloads; in production this is the
// ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, raw map[string]any) error
}

// Config for the verifier watcher
type Config struct {
	RPCURL           string
	VerifierContract common.Address
	PollInterval     time.Duration
	StartBlock       uint64 // 0 = latest
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		StartBlock:   0,
	}
}

// Watcher polls for verifier contract activity
type Watcher struct {
	client    *ethclient.Client
	config    Config
	submitter Submitter
	logger    *slog.Logger

	// Track processed transactions
	processed map[string]bool
	mu        sync.Mutex

	// Last processed block
	lastBlock uint64

	// Shutdown
	stop chan struct{}
	done chan struct{}
}

// New creates a new verifier watcher
func New(cfg Config, submitter Submitter, logger *slog.Logger) (*Watcher, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &Watcher{
		client:    client,
		config:    cfg,
		submitter: submitter,
		logger:    logger,
		processed: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching for verifier calls
func (w *Watcher) Start(ctx context.Context) error {
	// Get starting block
	if w.config.StartBlock == 0 {
		block, err := w.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		w.lastBlock = block
	} else {
		w.lastBlock = w.config.StartBlock
	}

	w.logger.Info("verifier watcher started",
		"contract", w.config.VerifierContract.Hex(),
		"startBlock", w.lastBlock,
	)

	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.checkForCalls(ctx); err != nil {
				metrics.FeedReconnectsTotal.WithLabelValues("ethwatch").Inc()
				w.logger.Error("verifier check failed", "error", err)
			}
		}
	}
}

func (w *Watcher) checkForCalls(ctx context.Context) error {
	// Get current block
	currentBlock, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}

	// Nothing new
	if currentBlock <= w.lastBlock {
		return nil
	}

	// Any event emitted by the verifier contract marks a call worth scoring.
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(w.lastBlock + 1)),
		ToBlock:   big.NewInt(int64(currentBlock)),
		Addresses: []common.Address{w.config.VerifierContract},
	}

	logs, err := w.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter logs: %w", err)
	}

	for _, vLog := range logs {
		if err := w.processCall(ctx, vLog); err != nil {
			w.logger.Error("failed to process verifier call", "tx", vLog.TxHash.Hex(), "error", err)
		}
	}

	w.lastBlock = currentBlock
	return nil
}

func (w *Watcher) processCall(ctx context.Context, vLog types.Log) error {
	txHash := vLog.TxHash.Hex()

	// Skip if already processed
	w.mu.Lock()
	if w.processed[txHash] {
		w.mu.Unlock()
		return nil
	}
	// Mark as in-progress to prevent concurrent duplicate processing.
	// If processing fails, we remove it so the next poll can retry.
	w.processed[txHash] = true
	w.mu.Unlock()

	// On failure, unmark so the call is retried on the next poll cycle.
	var succeeded bool
	defer func() {
		if !succeeded {
			w.mu.Lock()
			delete(w.processed, txHash)
			w.mu.Unlock()
		}
	}()

	tx, _, err := w.client.TransactionByHash(ctx, vLog.TxHash)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	receipt, err := w.client.TransactionReceipt(ctx, vLog.TxHash)
	if err != nil {
		return fmt.Errorf("failed to load receipt: %w", err)
	}

	calldata := tx.Data()
	raw := map[string]any{
		"kind":             "verifier_call",
		"id":               "verifier_call:" + txHash,
		"timestamp":        int64(time.Now().Unix()),
		"tags":             []string{},
		"summary":          fmt.Sprintf("verifier call in block %d", vLog.BlockNumber),
		"gas_used":         float64(receipt.GasUsed),
		"calldata_size":    float64(len(calldata)),
		"calldata_entropy": byteEntropy(calldata),
		"gas_price_gwei":   gweiPrice(tx.GasPrice()),
	}
	if err := w.submitter.Submit(ctx, raw); err != nil {
		return fmt.Errorf("failed to submit signal: %w", err)
	}

	w.logger.Info("verifier call observed",
		"tx", txHash,
		"gasUsed", receipt.GasUsed,
		"calldataBytes", len(calldata),
	)

	succeeded = true
	return nil
}

// byteEntropy is the Shannon entropy of the calldata in bits per byte.
// Packed or encrypted payloads approach 8; padded ABI calls sit much lower.
func byteEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// gweiPrice converts a wei gas price to gwei.
func gweiPrice(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}
