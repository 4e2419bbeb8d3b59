// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BitcoindConfig contains the connection details of a wallet-enabled
// bitcoind node.
type BitcoindConfig struct {
	// Host is the host:port of the node's JSON-RPC server. A wallet path
	// such as "localhost:8332/wallet/hot" selects a named wallet.
	Host string

	User string
	Pass string

	// DisableTLS talks plain HTTP to the node.
	DisableTLS bool

	// Certificates are the PEM encoded certificates used to verify the
	// node when TLS is enabled.
	Certificates []byte

	// ChainParams are the parameters of the network the node runs on.
	ChainParams *chaincfg.Params
}

// BitcoindClient implements Client over bitcoind's JSON-RPC interface.
type BitcoindClient struct {
	*rpcclient.Client

	chainParams *chaincfg.Params
}

// A compile-time assertion to ensure BitcoindClient implements Client.
var _ Client = (*BitcoindClient)(nil)

// NewBitcoindClient creates a client for the given node. No connection is
// made until the first call.
func NewBitcoindClient(cfg *BitcoindConfig) (*BitcoindClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableTLS:           cfg.DisableTLS,
		Certificates:         cfg.Certificates,
		Params:               cfg.ChainParams.Name,
		HTTPPostMode:         true,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	return &BitcoindClient{
		Client:      client,
		chainParams: cfg.ChainParams,
	}, nil
}

// Stop shuts down the underlying RPC client.
func (c *BitcoindClient) Stop() {
	c.Shutdown()
}

// BlockCount returns the height of the best chain.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) BlockCount(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count, err := c.GetBlockCount()
	if err != nil {
		return 0, err
	}

	return int32(count), nil
}

// BlockHash returns the hash of the best-chain block at height.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) BlockHash(ctx context.Context,
	height int32) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.GetBlockHash(int64(height))
}

// BlockHeight returns the height of the block with the given hash.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) BlockHeight(ctx context.Context,
	hash *chainhash.Hash) (int32, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	header, err := c.GetBlockHeaderVerbose(hash)
	if err != nil {
		return 0, err
	}

	return header.Height, nil
}

// ListSinceBlock returns the wallet transactions after the given block.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) ListSinceBlock(ctx context.Context,
	hash *chainhash.Hash) ([]Receipt, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.Client.ListSinceBlock(hash)
	if err != nil {
		return nil, err
	}

	return parseReceipts(result.Transactions)
}

// ListUnspent returns the wallet's unspent outputs with at least minConf
// confirmations.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) ListUnspent(ctx context.Context,
	minConf int32) ([]Unspent, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := c.ListUnspentMin(int(minConf))
	if err != nil {
		return nil, err
	}

	return parseUnspent(results)
}

// CreateRawTransaction builds an unsigned transaction.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) CreateRawTransaction(ctx context.Context,
	inputs []wire.OutPoint,
	outputs map[string]btcutil.Amount) (*wire.MsgTx, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txInputs := make([]btcjson.TransactionInput, 0, len(inputs))
	for _, op := range inputs {
		txInputs = append(txInputs, btcjson.TransactionInput{
			Txid: op.Hash.String(),
			Vout: op.Index,
		})
	}

	amounts := make(map[btcutil.Address]btcutil.Amount, len(outputs))
	for encoded, amount := range outputs {
		addr, err := btcutil.DecodeAddress(encoded, c.chainParams)
		if err != nil {
			return nil, fmt.Errorf("invalid output address %v: %w",
				encoded, err)
		}
		amounts[addr] = amount
	}

	return c.Client.CreateRawTransaction(txInputs, amounts, nil)
}

// SignRawTransaction signs tx with the node's wallet keys. The raw request
// is used so that per-input signing errors are returned to the caller.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) SignRawTransaction(ctx context.Context,
	tx *wire.MsgTx) (*SignResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	param, err := json.Marshal(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return nil, err
	}

	raw, err := c.RawRequest(
		"signrawtransactionwithwallet", []json.RawMessage{param},
	)
	if err != nil {
		return nil, err
	}

	var result btcjson.SignRawTransactionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	return parseSignResult(&result)
}

// SendRawTransaction broadcasts a signed transaction.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) SendRawTransaction(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txid, err := c.Client.SendRawTransaction(tx, false)
	if err != nil {
		return nil, MapRPCErr(err)
	}

	return txid, nil
}

// ImportPrivKey adds a private key to the node's wallet.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) ImportPrivKey(ctx context.Context,
	wif *btcutil.WIF, label string, rescan bool) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return c.ImportPrivKeyRescan(wif, label, rescan)
}

// HasPrivKey reports whether the node's wallet holds the key of addr.
//
// NOTE: This is part of the Client interface.
func (c *BitcoindClient) HasPrivKey(ctx context.Context,
	addr btcutil.Address) (bool, error) {

	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := c.DumpPrivKey(addr)
	return privKeyKnown(err)
}

// privKeyKnown interprets the error of a dumpprivkey call.
func privKeyKnown(err error) (bool, error) {
	if err == nil {
		return true, nil
	}

	var jsonErr *btcjson.RPCError
	if errors.As(err, &jsonErr) && jsonErr.Code == rpcWalletError {
		return false, nil
	}

	return false, err
}

// parseReceipts converts listsinceblock entries.
func parseReceipts(txs []btcjson.ListTransactionsResult) ([]Receipt, error) {
	receipts := make([]Receipt, 0, len(txs))
	for _, tx := range txs {
		txid, err := chainhash.NewHashFromStr(tx.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q in "+
				"listsinceblock result: %w", tx.TxID, err)
		}

		amount, err := btcutil.NewAmount(tx.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %v in "+
				"listsinceblock result: %w", tx.Amount, err)
		}

		blockHash := fn.None[chainhash.Hash]()
		if tx.BlockHash != "" {
			hash, err := chainhash.NewHashFromStr(tx.BlockHash)
			if err != nil {
				return nil, fmt.Errorf("invalid block hash "+
					"%q in listsinceblock result: %w",
					tx.BlockHash, err)
			}
			blockHash = fn.Some(*hash)
		}

		receipts = append(receipts, Receipt{
			Category:     tx.Category,
			TxID:         *txid,
			Vout:         tx.Vout,
			Address:      tx.Address,
			Amount:       amount,
			BlockHash:    blockHash,
			TimeReceived: time.Unix(tx.TimeReceived, 0).UTC(),
		})
	}

	return receipts, nil
}

// parseUnspent converts listunspent entries.
func parseUnspent(results []btcjson.ListUnspentResult) ([]Unspent, error) {
	unspent := make([]Unspent, 0, len(results))
	for _, result := range results {
		txid, err := chainhash.NewHashFromStr(result.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q in listunspent "+
				"result: %w", result.TxID, err)
		}

		amount, err := btcutil.NewAmount(result.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %v in "+
				"listunspent result: %w", result.Amount, err)
		}

		unspent = append(unspent, Unspent{
			OutPoint:      *wire.NewOutPoint(txid, result.Vout),
			Address:       result.Address,
			Amount:        amount,
			Confirmations: result.Confirmations,
			Spendable:     result.Spendable,
		})
	}

	return unspent, nil
}

// parseSignResult decodes the signed transaction and flattens the errors.
func parseSignResult(result *btcjson.SignRawTransactionResult) (*SignResult,
	error) {

	raw, err := hex.DecodeString(result.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid signed transaction hex: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid signed transaction: %w", err)
	}

	signed := &SignResult{
		Tx:       tx,
		Complete: result.Complete,
	}
	for _, e := range result.Errors {
		signed.Errors = append(signed.Errors,
			fmt.Sprintf("%s:%d: %s", e.TxID, e.Vout, e.Error))
	}

	if !signed.Complete {
		log.Debugf("Signing of %v incomplete with %d %s",
			tx.TxHash(), len(signed.Errors),
			pickNoun(len(signed.Errors), "error", "errors"))
	}

	return signed, nil
}

// pickNoun returns the singular or plural form of a noun depending
// on the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
