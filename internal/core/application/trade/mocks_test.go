package trade_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/receivers"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
)

var params = &chaincfg.RegressionNetParams

const (
	chainHeight = int32(1000)

	waitFor = 10 * time.Second
	tick    = 20 * time.Millisecond
)

func newKey(seed byte) *btcec.PrivateKey {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = seed
	}
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key
}

func keyAddress(key *btcec.PrivateKey) string {
	addr, _ := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), params,
	)
	return addr.EncodeAddress()
}

/**
 * Wallet
 */

// testWallet owns a single coin locked to its funding key and derives every
// other key from the seed it's created with.
type testWallet struct {
	signingKey, fundingKey, payoutKey, changeKey, multisigKey *btcec.PrivateKey

	signer *escrow.KeySigner
	coins  []escrow.RawTransactionInput

	lock        sync.Mutex
	unconfirmed int
	reserved    map[string]ports.TradeAddresses
	withdrawals []string
}

func newTestWallet(t *testing.T, seed byte) *testWallet {
	w := &testWallet{
		signingKey:  newKey(seed),
		fundingKey:  newKey(seed + 1),
		payoutKey:   newKey(seed + 2),
		changeKey:   newKey(seed + 3),
		multisigKey: newKey(seed + 4),
		reserved:    make(map[string]ports.TradeAddresses),
	}
	w.signer = escrow.NewKeySigner(params, w.fundingKey)

	addr, err := btcutil.DecodeAddress(keyAddress(w.fundingKey), params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	parent := wire.NewMsgTx(wire.TxVersion)
	parent.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{seed}, uint32(seed)), nil, nil,
	))
	parent.AddTxOut(wire.NewTxOut(btcutil.SatoshiPerBitcoin, script))
	coin, err := escrow.NewRawTransactionInput(parent, 0)
	require.NoError(t, err)
	w.coins = []escrow.RawTransactionInput{coin}
	return w
}

func (w *testWallet) setUnconfirmed(n int) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.unconfirmed = n
}

func (w *testWallet) SpendableCoins(
	_ context.Context, addresses []string,
) ([]escrow.RawTransactionInput, error) {
	funding := keyAddress(w.fundingKey)
	for _, a := range addresses {
		if a == funding {
			return w.coins, nil
		}
	}
	if len(addresses) <= 0 {
		return w.coins, nil
	}
	return nil, nil
}

func (w *testWallet) SignInput(
	tx *wire.MsgTx, idx int, prevPkScript []byte, amount int64,
) error {
	return w.signer.SignInput(tx, idx, prevPkScript, amount)
}

func (w *testWallet) SigningKey(context.Context) (*btcec.PrivateKey, error) {
	return w.signingKey, nil
}

func (w *testWallet) MultisigKey(context.Context, string) (*btcec.PrivateKey, error) {
	return w.multisigKey, nil
}

func (w *testWallet) ReserveAddresses(
	_ context.Context, tradeID string,
) (ports.TradeAddresses, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	addresses := ports.TradeAddresses{
		Funding:        keyAddress(w.fundingKey),
		Payout:         keyAddress(w.payoutKey),
		Change:         keyAddress(w.changeKey),
		MultisigPubKey: w.multisigKey.PubKey().SerializeCompressed(),
	}
	w.reserved[tradeID] = addresses
	return addresses, nil
}

func (w *testWallet) ReleaseAddresses(_ context.Context, tradeID string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.reserved, tradeID)
	return nil
}

func (w *testWallet) AreAddressesAvailable(
	context.Context, string, ports.TradeAddresses,
) (bool, error) {
	return true, nil
}

func (w *testWallet) UnconfirmedTxCount(context.Context) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.unconfirmed, nil
}

func (w *testWallet) GetTransaction(context.Context, string) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not found")
}

func (w *testWallet) GetConfidence(context.Context, string) (ports.Confidence, error) {
	return ports.Confidence{Status: ports.ConfidencePending}, nil
}

func (w *testWallet) PublishTransaction(context.Context, *wire.MsgTx) error {
	return nil
}

func (w *testWallet) Withdraw(
	_ context.Context, fromAddress, toAddress string,
) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.withdrawals = append(w.withdrawals, toAddress)
	return chainhash.HashH([]byte(fromAddress + toAddress)).String(), nil
}

func (w *testWallet) Close() {}

/**
 * Dao params
 */

type mockDaoParams struct {
	mock.Mock
}

func newMockDaoParams() *mockDaoParams {
	m := &mockDaoParams{}
	m.On("DonationAddresses", mock.Anything).Return(validation.DonationAddresses{
		Current: keyAddress(newKey(200)),
		Default: keyAddress(newKey(201)),
	}, nil)
	m.On("ChainHeight", mock.Anything).Return(chainHeight, nil)
	m.On("GenesisHeight").Return(int32(100))
	m.On("UseReceivers").Return(false)
	return m
}

func (m *mockDaoParams) DonationAddresses(
	ctx context.Context,
) (validation.DonationAddresses, error) {
	args := m.Called(ctx)
	return args.Get(0).(validation.DonationAddresses), args.Error(1)
}

func (m *mockDaoParams) CompensationClaims(
	ctx context.Context, maxBlockHeight int32,
) ([]receivers.Claim, error) {
	args := m.Called(ctx, maxBlockHeight)
	var res []receivers.Claim
	if a := args.Get(0); a != nil {
		res = a.([]receivers.Claim)
	}
	return res, args.Error(1)
}

func (m *mockDaoParams) ChainHeight(ctx context.Context) (int32, error) {
	args := m.Called(ctx)
	return args.Get(0).(int32), args.Error(1)
}

func (m *mockDaoParams) GenesisHeight() int32 {
	return m.Called().Get(0).(int32)
}

func (m *mockDaoParams) UseReceivers() bool {
	return m.Called().Bool(0)
}

/**
 * Broadcaster
 */

type mockBroadcaster struct {
	mock.Mock

	lock sync.Mutex
	txs  []string
}

func newMockBroadcaster() *mockBroadcaster {
	m := &mockBroadcaster{}
	m.On("Broadcast", mock.Anything, mock.Anything).Return(ports.BroadcastSucceeded, nil)
	m.On("Stop").Return()
	return m
}

func (m *mockBroadcaster) Broadcast(
	ctx context.Context, tx *wire.MsgTx,
) (ports.BroadcastResult, error) {
	args := m.Called(ctx, tx)
	if args.Error(1) == nil {
		m.lock.Lock()
		m.txs = append(m.txs, tx.TxHash().String())
		m.lock.Unlock()
	}
	return args.Get(0).(ports.BroadcastResult), args.Error(1)
}

func (m *mockBroadcaster) Stop() {
	m.Called()
}

// published returns the ids of the broadcasted txs.
func (m *mockBroadcaster) published() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.txs...)
}

/**
 * Confidence notifier
 */

type fakeNotifier struct {
	lock     sync.Mutex
	handlers map[string]ports.ConfidenceHandler
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{handlers: make(map[string]ports.ConfidenceHandler)}
}

func (n *fakeNotifier) Watch(txid string, _ int, handler ports.ConfidenceHandler) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.handlers[txid] = handler
}

func (n *fakeNotifier) Unwatch(txid string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	delete(n.handlers, txid)
}

func (n *fakeNotifier) Start() {}
func (n *fakeNotifier) Stop()  {}

func (n *fakeNotifier) isWatching(txid string) bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	_, ok := n.handlers[txid]
	return ok
}

// confirm notifies the watcher of txid that it got into a block.
func (n *fakeNotifier) confirm(txid string) {
	n.lock.Lock()
	handler, ok := n.handlers[txid]
	n.lock.Unlock()
	if ok {
		handler(txid, ports.Confidence{Status: ports.ConfidenceBuilding, Depth: 1})
	}
}

/**
 * Messenger
 */

// network delivers messages between the nodes asynchronously. Messages of
// the held types are kept until released, those of the failing types are
// dropped, and every message is delivered twice if duplicate is set.
type network struct {
	lock      sync.Mutex
	nodes     map[string]*testMessenger
	holdTypes map[string]bool
	failTypes map[string]bool
	held      []heldMessage
	duplicate bool
}

type heldMessage struct {
	to  string
	env ports.Envelope
}

func newNetwork() *network {
	return &network{
		nodes:     make(map[string]*testMessenger),
		holdTypes: make(map[string]bool),
		failTypes: make(map[string]bool),
	}
}

func (n *network) newMessenger(address string) *testMessenger {
	m := &testMessenger{address: address, net: n}
	n.lock.Lock()
	n.nodes[address] = m
	n.lock.Unlock()
	return m
}

func (n *network) hold(msgType string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.holdTypes[msgType] = true
}

// setFailing makes the sending of messages of the given type fail or
// succeed again.
func (n *network) setFailing(msgType string, failing bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if failing {
		n.failTypes[msgType] = true
		return
	}
	delete(n.failTypes, msgType)
}

func (n *network) release(msgType string) {
	n.lock.Lock()
	delete(n.holdTypes, msgType)
	held := n.held
	n.held = nil
	n.lock.Unlock()

	for _, h := range held {
		if h.env.Type != msgType {
			n.lock.Lock()
			n.held = append(n.held, h)
			n.lock.Unlock()
			continue
		}
		n.deliver(h.to, h.env)
	}
}

func (n *network) deliver(to string, env ports.Envelope) domain.MessageState {
	n.lock.Lock()
	peer, ok := n.nodes[to]
	if n.failTypes[env.Type] {
		n.lock.Unlock()
		return domain.MessageStateSendFailed
	}
	if n.holdTypes[env.Type] {
		n.held = append(n.held, heldMessage{to, env})
		n.lock.Unlock()
		return domain.MessageStateArrived
	}
	times := 1
	if n.duplicate {
		times = 2
	}
	n.lock.Unlock()

	if !ok {
		return domain.MessageStateStoredInMailbox
	}
	for i := 0; i < times; i++ {
		go peer.receive(env)
	}
	return domain.MessageStateArrived
}

type testMessenger struct {
	address string
	net     *network

	lock     sync.Mutex
	handler  ports.MessageHandler
	received []ports.Envelope
}

func (m *testMessenger) Address() string { return m.address }

func (m *testMessenger) Send(
	_ context.Context, peer string, env ports.Envelope,
) (domain.MessageState, error) {
	return m.net.deliver(peer, env), nil
}

func (m *testMessenger) RegisterHandler(handler ports.MessageHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handler = handler
}

func (m *testMessenger) Start() error { return nil }
func (m *testMessenger) Stop()        {}

func (m *testMessenger) receive(env ports.Envelope) {
	m.lock.Lock()
	m.received = append(m.received, env)
	handler := m.handler
	m.lock.Unlock()
	if handler != nil {
		handler(context.Background(), env, false)
	}
}

func (m *testMessenger) receivedOfType(msgType string) []ports.Envelope {
	m.lock.Lock()
	defer m.lock.Unlock()
	msgs := make([]ports.Envelope, 0)
	for _, env := range m.received {
		if env.Type == msgType {
			msgs = append(msgs, env)
		}
	}
	return msgs
}

// sendAs lets a node without trade manager, like a mediator, send a message.
func (m *testMessenger) sendAs(
	t *testing.T, to, tradeID, msgType string, payload interface{},
) {
	buf, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = m.Send(context.Background(), to, ports.Envelope{
		UID:     uuid.New().String(),
		TradeID: tradeID,
		Type:    msgType,
		Sender:  m.address,
		Payload: buf,
		SentAt:  time.Now().Unix(),
	})
	require.NoError(t, err)
}

/**
 * Nodes
 */

const (
	makerAddress    = "maker.onion:9999"
	takerAddress    = "taker.onion:9999"
	mediatorAddress = "mediator.onion:9999"
	refundAddress   = "refundagent.onion:9999"
)

type node struct {
	*trade.Manager
	wallet      *testWallet
	broadcaster *mockBroadcaster
	notifier    *fakeNotifier
	messenger   *testMessenger
	repo        ports.RepoManager
}

func newNode(t *testing.T, net *network, address string, seed byte) *node {
	n := &node{
		wallet:      newTestWallet(t, seed),
		broadcaster: newMockBroadcaster(),
		notifier:    newFakeNotifier(),
		messenger:   net.newMessenger(address),
		repo:        inmemory.NewRepoManager(),
	}
	manager, err := trade.NewManager(trade.Config{
		Network:                  params,
		RepoManager:              n.repo,
		Wallet:                   n.wallet,
		Broadcaster:              n.broadcaster,
		ConfidenceNotifier:       n.notifier,
		Messenger:                n.messenger,
		DaoParams:                newMockDaoParams(),
		ReplyTimeout:             30 * time.Second,
		OfferAvailabilityTimeout: 5 * time.Second,
		TradePeriodTicker:        ticker.NewForce(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)
	n.Manager = manager
	return n
}

func (n *node) trade(t *testing.T, tradeID string) *domain.Trade {
	tr, err := n.GetTrade(context.Background(), tradeID)
	require.NoError(t, err)
	return tr
}

// waitTrade waits for the trade to satisfy cond.
func (n *node) waitTrade(
	t *testing.T, tradeID string, cond func(t *domain.Trade) bool,
) *domain.Trade {
	t.Helper()
	var last *domain.Trade
	require.Eventually(t, func() bool {
		tr, err := n.GetTrade(context.Background(), tradeID)
		if err != nil {
			return false
		}
		last = tr
		return cond(tr)
	}, waitFor, tick)
	return last
}
