package rpcwallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

const (
	methodListUnspent         = "listunspent"
	methodGetRawTransaction   = "getrawtransaction"
	methodGetTransaction      = "gettransaction"
	methodSendRawTransaction  = "sendrawtransaction"
	methodGetNewAddress       = "getnewaddress"
	methodGetAddressesByLabel = "getaddressesbylabel"
	methodGetAddressInfo      = "getaddressinfo"
	methodSetLabel            = "setlabel"
	methodDumpPrivKey         = "dumpprivkey"
	methodEstimateSmartFee    = "estimatesmartfee"
	methodGetBlockCount       = "getblockcount"

	labelPrefix      = "escrow"
	signingLabel     = labelPrefix + "-signing"
	releasedLabel    = labelPrefix + "-released"
	maxConfirmations = 9999999

	// rpc error codes of bitcoind.
	errCodeNoTx         = -5
	errCodeInvalidLabel = -11
)

// RawRequester is satisfied by *rpcclient.Client.
type RawRequester interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
}

// Config holds the connection parameters of the node rpc.
type Config struct {
	Host       string
	User       string
	Pass       string
	WalletName string
	Network    *chaincfg.Params
	// FallbackFeeRate is the fee rate in sat/vB used when the node can't
	// estimate one.
	FallbackFeeRate int64
}

type wallet struct {
	node            RawRequester
	shutdown        func()
	params          *chaincfg.Params
	fallbackFeeRate int64

	lock sync.Mutex
	keys map[string]*btcec.PrivateKey
}

// NewWallet connects to a bitcoind wallet through its json rpc interface.
func NewWallet(cfg Config) (ports.Wallet, error) {
	host := cfg.Host
	if cfg.WalletName != "" {
		host = fmt.Sprintf("%s/wallet/%s", host, cfg.WalletName)
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		HTTPPostMode: true,
		DisableTLS:   true,
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
	}, nil)
	if err != nil {
		return nil, err
	}
	w := newWallet(client, cfg.Network, cfg.FallbackFeeRate)
	w.shutdown = client.Shutdown
	return w, nil
}

func newWallet(node RawRequester, params *chaincfg.Params, fallbackFeeRate int64) *wallet {
	if fallbackFeeRate <= 0 {
		fallbackFeeRate = 10
	}
	return &wallet{
		node:            node,
		params:          params,
		fallbackFeeRate: fallbackFeeRate,
		keys:            make(map[string]*btcec.PrivateKey),
		shutdown:        func() {},
	}
}

func (w *wallet) SpendableCoins(
	_ context.Context, addresses []string,
) ([]escrow.RawTransactionInput, error) {
	unspents, err := w.listUnspent(1, addresses)
	if err != nil {
		return nil, err
	}

	coins := make([]escrow.RawTransactionInput, 0, len(unspents))
	for _, u := range unspents {
		if !u.Spendable {
			continue
		}
		parent, err := w.getRawTransaction(u.TxID)
		if err != nil {
			return nil, err
		}
		coin, err := escrow.NewRawTransactionInput(parent, u.Vout)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// SignInput signs a P2PKH input with the key of the address it's locked to.
func (w *wallet) SignInput(
	tx *wire.MsgTx, idx int, prevPkScript []byte, _ int64,
) error {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(prevPkScript, w.params)
	if err != nil {
		return err
	}
	if len(addrs) != 1 {
		return fmt.Errorf("unsupported script for input %d", idx)
	}
	key, err := w.privKey(addrs[0].EncodeAddress())
	if err != nil {
		return err
	}
	sigScript, err := txscript.SignatureScript(
		tx, idx, prevPkScript, txscript.SigHashAll, key, true,
	)
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = sigScript
	return nil
}

func (w *wallet) SigningKey(context.Context) (*btcec.PrivateKey, error) {
	addr, err := w.labeledAddress(signingLabel, true)
	if err != nil {
		return nil, err
	}
	return w.privKey(addr)
}

func (w *wallet) MultisigKey(_ context.Context, tradeID string) (*btcec.PrivateKey, error) {
	addr, err := w.labeledAddress(tradeLabel(tradeID, "multisig"), false)
	if err != nil {
		return nil, err
	}
	return w.privKey(addr)
}

// ReserveAddresses labels a fresh address of the wallet for every purpose
// of the trade. Calling it again returns the same addresses.
func (w *wallet) ReserveAddresses(
	_ context.Context, tradeID string,
) (ports.TradeAddresses, error) {
	var addresses ports.TradeAddresses
	for _, r := range []struct {
		purpose string
		addr    *string
	}{
		{"funding", &addresses.Funding},
		{"payout", &addresses.Payout},
		{"change", &addresses.Change},
	} {
		addr, err := w.labeledAddress(tradeLabel(tradeID, r.purpose), true)
		if err != nil {
			return ports.TradeAddresses{}, err
		}
		*r.addr = addr
	}

	msAddr, err := w.labeledAddress(tradeLabel(tradeID, "multisig"), true)
	if err != nil {
		return ports.TradeAddresses{}, err
	}
	info, err := w.getAddressInfo(msAddr)
	if err != nil {
		return ports.TradeAddresses{}, err
	}
	if info.PubKey == nil {
		return ports.TradeAddresses{}, fmt.Errorf("missing pubkey of address %s", msAddr)
	}
	pubkey, err := hex.DecodeString(*info.PubKey)
	if err != nil {
		return ports.TradeAddresses{}, err
	}
	addresses.MultisigPubKey = pubkey
	return addresses, nil
}

// ReleaseAddresses marks the addresses of the trade as released. The funds
// they hold stay in the wallet.
func (w *wallet) ReleaseAddresses(_ context.Context, tradeID string) error {
	for _, purpose := range []string{"funding", "payout", "change", "multisig"} {
		addrs, err := w.addressesByLabel(tradeLabel(tradeID, purpose))
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			if err := w.call(methodSetLabel, nil, addr, releasedLabel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *wallet) AreAddressesAvailable(
	_ context.Context, tradeID string, addresses ports.TradeAddresses,
) (bool, error) {
	for purpose, addr := range map[string]string{
		"funding": addresses.Funding,
		"payout":  addresses.Payout,
		"change":  addresses.Change,
	} {
		if addr == "" {
			continue
		}
		info, err := w.getAddressInfo(addr)
		if err != nil {
			return false, err
		}
		if !hasLabel(info, tradeLabel(tradeID, purpose)) {
			return false, nil
		}
	}
	return true, nil
}

// UnconfirmedTxCount returns the number of txs with unconfirmed outputs
// owned by the wallet.
func (w *wallet) UnconfirmedTxCount(context.Context) (int, error) {
	var unspents []btcjson.ListUnspentResult
	if err := w.call(methodListUnspent, &unspents, 0, 0); err != nil {
		return 0, err
	}
	txids := make(map[string]struct{})
	for _, u := range unspents {
		txids[u.TxID] = struct{}{}
	}
	return len(txids), nil
}

func (w *wallet) GetTransaction(_ context.Context, txid string) (*wire.MsgTx, error) {
	return w.getRawTransaction(txid)
}

// GetConfidence looks up the tx among the wallet ones first, so that
// conflicted txs are reported as dead, and then in the node mempool and
// index.
func (w *wallet) GetConfidence(_ context.Context, txid string) (ports.Confidence, error) {
	var walletTx btcjson.GetTransactionResult
	err := w.call(methodGetTransaction, &walletTx, txid)
	if err == nil {
		return confidenceFromConfirmations(walletTx.Confirmations), nil
	}
	if !isNoTxError(err) {
		return ports.Confidence{}, err
	}

	var rawTx btcjson.TxRawResult
	if err := w.call(methodGetRawTransaction, &rawTx, txid, true); err != nil {
		if isNoTxError(err) {
			return ports.Confidence{Status: ports.ConfidenceUnknown}, nil
		}
		return ports.Confidence{}, err
	}
	return confidenceFromConfirmations(int64(rawTx.Confirmations)), nil
}

func (w *wallet) PublishTransaction(_ context.Context, tx *wire.MsgTx) error {
	buf, err := escrow.SerializeTx(tx)
	if err != nil {
		return err
	}
	var txid string
	if err := w.call(methodSendRawTransaction, &txid, hex.EncodeToString(buf)); err != nil {
		return err
	}
	log.Debugf("published tx %s", txid)
	return nil
}

// Withdraw sweeps all the confirmed coins of fromAddress to toAddress.
func (w *wallet) Withdraw(
	ctx context.Context, fromAddress, toAddress string,
) (string, error) {
	coins, err := w.SpendableCoins(ctx, []string{fromAddress})
	if err != nil {
		return "", err
	}
	if len(coins) <= 0 {
		return "", fmt.Errorf("no coins to withdraw from %s", fromAddress)
	}
	feeRate, err := w.feeRate()
	if err != nil {
		return "", err
	}
	tx, err := buildSweepTx(coins, toAddress, feeRate, w.params)
	if err != nil {
		return "", err
	}
	for i, coin := range coins {
		script, err := coin.PkScript()
		if err != nil {
			return "", err
		}
		if err := w.SignInput(tx, i, script, coin.Value); err != nil {
			return "", err
		}
	}
	if err := w.PublishTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (w *wallet) Close() {
	w.shutdown()
}

// ChainHeight returns the height of the best chain known to the node.
func (w *wallet) ChainHeight() (int32, error) {
	var height int64
	if err := w.call(methodGetBlockCount, &height); err != nil {
		return 0, err
	}
	return int32(height), nil
}

func (w *wallet) listUnspent(
	minConf int, addresses []string,
) ([]btcjson.ListUnspentResult, error) {
	var unspents []btcjson.ListUnspentResult
	args := []interface{}{minConf, maxConfirmations}
	if len(addresses) > 0 {
		args = append(args, addresses)
	}
	if err := w.call(methodListUnspent, &unspents, args...); err != nil {
		return nil, err
	}
	return unspents, nil
}

func (w *wallet) getRawTransaction(txid string) (*wire.MsgTx, error) {
	var txHex string
	if err := w.call(methodGetRawTransaction, &txHex, txid); err != nil {
		return nil, err
	}
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	return escrow.DeserializeTx(buf)
}

func (w *wallet) getAddressInfo(addr string) (*btcjson.GetAddressInfoResult, error) {
	var info btcjson.GetAddressInfoResult
	if err := w.call(methodGetAddressInfo, &info, addr); err != nil {
		return nil, err
	}
	return &info, nil
}

func (w *wallet) addressesByLabel(label string) ([]string, error) {
	res := make(map[string]json.RawMessage)
	if err := w.call(methodGetAddressesByLabel, &res, label); err != nil {
		var rpcErr *btcjson.RPCError
		// The label doesn't exist.
		if errors.As(err, &rpcErr) && rpcErr.Code == errCodeInvalidLabel {
			return nil, nil
		}
		return nil, err
	}
	addrs := make([]string, 0, len(res))
	for addr := range res {
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// labeledAddress returns the address with the given label. If create is set
// a new one is made when missing.
func (w *wallet) labeledAddress(label string, create bool) (string, error) {
	addrs, err := w.addressesByLabel(label)
	if err != nil {
		return "", err
	}
	if len(addrs) > 0 {
		return addrs[0], nil
	}
	if !create {
		return "", fmt.Errorf("no address labeled %s", label)
	}
	var addr string
	if err := w.call(methodGetNewAddress, &addr, label, "legacy"); err != nil {
		return "", err
	}
	return addr, nil
}

func (w *wallet) privKey(addr string) (*btcec.PrivateKey, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if key, ok := w.keys[addr]; ok {
		return key, nil
	}
	var wifStr string
	if err := w.call(methodDumpPrivKey, &wifStr, addr); err != nil {
		return nil, err
	}
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, err
	}
	w.keys[addr] = wif.PrivKey
	return wif.PrivKey, nil
}

// feeRate returns the estimated fee rate in sat/vB.
func (w *wallet) feeRate() (int64, error) {
	var res btcjson.EstimateSmartFeeResult
	if err := w.call(methodEstimateSmartFee, &res, 6); err != nil {
		return 0, err
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		log.Debugf("fee estimation not available, using fallback fee rate")
		return w.fallbackFeeRate, nil
	}
	satPerKB, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return 0, err
	}
	rate := int64(satPerKB) / 1000
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}

func (w *wallet) call(method string, res interface{}, args ...interface{}) error {
	params := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		buf, err := json.Marshal(arg)
		if err != nil {
			return err
		}
		params = append(params, buf)
	}
	raw, err := w.node.RawRequest(method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if res == nil {
		return nil
	}
	return json.Unmarshal(raw, res)
}

func tradeLabel(tradeID, purpose string) string {
	return fmt.Sprintf("%s-%s-%s", labelPrefix, tradeID, purpose)
}

func hasLabel(info *btcjson.GetAddressInfoResult, label string) bool {
	for _, l := range info.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func confidenceFromConfirmations(confirmations int64) ports.Confidence {
	switch {
	case confirmations < 0:
		return ports.Confidence{Status: ports.ConfidenceDead}
	case confirmations == 0:
		return ports.Confidence{Status: ports.ConfidencePending}
	default:
		return ports.Confidence{
			Status: ports.ConfidenceBuilding, Depth: int(confirmations),
		}
	}
}

func isNoTxError(err error) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == errCodeNoTx
	}
	return strings.Contains(err.Error(), "No such") ||
		strings.Contains(err.Error(), "Invalid or non-wallet transaction id")
}
