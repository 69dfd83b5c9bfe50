package trade

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

type broadcastError struct {
	kind string
	err  error
}

func (e *broadcastError) Error() string {
	return fmt.Sprintf("failed to broadcast %s tx: %s", e.kind, e.err)
}

func (e *broadcastError) Unwrap() error {
	return e.err
}

// broadcast publishes tx. A broadcast with no answer in time is treated as
// successful.
func (m *Manager) broadcast(ctx context.Context, kind string, tx *wire.MsgTx) error {
	res, err := m.cfg.Broadcaster.Broadcast(ctx, tx)
	if err != nil {
		broadcastsCounter.WithLabelValues(kind, "failed").Inc()
		return &broadcastError{kind, err}
	}
	if res == ports.BroadcastTimedOut {
		broadcastsCounter.WithLabelValues(kind, "timeout").Inc()
		log.Warnf(
			"%s tx %s broadcast timed out, considering it published",
			kind, tx.TxHash(),
		)
		return nil
	}
	broadcastsCounter.WithLabelValues(kind, "ok").Inc()
	return nil
}

func depositTx(t *domain.Trade) (*wire.MsgTx, error) {
	if len(t.DepositTx) <= 0 {
		return nil, fmt.Errorf("%w: missing deposit tx", domain.ErrTradeInvalidState)
	}
	return escrow.DeserializeTx(t.DepositTx)
}

func contract(t *domain.Trade) (*domain.Contract, error) {
	if t.Contract == nil {
		return nil, domain.ErrMissingContract
	}
	return t.Contract, nil
}

func (m *Manager) multisigKey(
	ctx context.Context, t *domain.Trade,
) (*btcec.PrivateKey, error) {
	key, err := m.wallet.MultisigKey(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(key.PubKey().SerializeCompressed(), t.ProcessModel.MyMultisigPubKey) {
		return nil, fmt.Errorf("wallet multisig key does not match the trade one")
	}
	return key, nil
}

// buyerSellerInputs returns the deposit inputs of buyer and seller.
func buyerSellerInputs(t *domain.Trade) ([]escrow.RawTransactionInput, []escrow.RawTransactionInput) {
	pm := t.ProcessModel
	if t.Role.IsBuyer() {
		return pm.MyRawInputs, pm.PeerRawInputs
	}
	return pm.PeerRawInputs, pm.MyRawInputs
}

// buyerSellerSigs orders the local and peer signatures by trade role.
func buyerSellerSigs(t *domain.Trade, mine, peer []byte) ([]byte, []byte) {
	if t.Role.IsBuyer() {
		return mine, peer
	}
	return peer, mine
}

func payoutArgs(c *domain.Contract, split domain.PayoutSplit) escrow.PayoutArgs {
	return escrow.PayoutArgs{
		BuyerAmount:   btcutil.Amount(split.BuyerAmount),
		SellerAmount:  btcutil.Amount(split.SellerAmount),
		BuyerAddress:  c.BuyerPayoutAddress(),
		SellerAddress: c.SellerPayoutAddress(),
		Keys:          c.EscrowKeys(),
	}
}

// checkPayout makes sure a payout tx received from a peer spends the escrow
// of the trade to the expected outputs.
func (m *Manager) checkPayout(
	deposit *wire.MsgTx, args escrow.PayoutArgs, payout *wire.MsgTx,
) error {
	if err := m.validator.ValidatePayoutInput(payout, deposit.TxHash()); err != nil {
		return err
	}
	expected, err := m.assembler.CreatePayout(deposit, args)
	if err != nil {
		return err
	}
	if len(expected.TxOut) != len(payout.TxOut) {
		return fmt.Errorf(
			"payout tx has %d outputs, expected %d",
			len(payout.TxOut), len(expected.TxOut),
		)
	}
	for i, out := range expected.TxOut {
		got := payout.TxOut[i]
		if got.Value != out.Value || !bytes.Equal(got.PkScript, out.PkScript) {
			return fmt.Errorf("payout tx output %d does not match expected one", i)
		}
	}
	return nil
}

// checkChangeOutput makes sure the deposit tx pays back the local change.
func (m *Manager) checkChangeOutput(tx *wire.MsgTx, change *escrow.ChangeOutput) error {
	if change == nil {
		return nil
	}
	addr, err := btcutil.DecodeAddress(change.Address, m.cfg.Network)
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) && out.Value == int64(change.Value) {
			return nil
		}
	}
	return &escrow.TransactionVerificationError{
		Reason: "deposit tx is missing the local change output",
	}
}

func changeOption(change *escrow.ChangeOutput) fn.Option[escrow.ChangeOutput] {
	if change == nil {
		return fn.None[escrow.ChangeOutput]()
	}
	return fn.Some(*change)
}

func changePtr(change fn.Option[escrow.ChangeOutput]) *escrow.ChangeOutput {
	var ptr *escrow.ChangeOutput
	change.WhenSome(func(c escrow.ChangeOutput) {
		ptr = &c
	})
	return ptr
}

// deliveryState maps the outcome of sending a message to one of the given
// detail states.
func deliveryState(
	ms domain.MessageState, sent, arrived, mailbox, failed domain.State,
) domain.State {
	switch ms {
	case domain.MessageStateArrived:
		return arrived
	case domain.MessageStateStoredInMailbox:
		return mailbox
	case domain.MessageStateSendFailed:
		return failed
	default:
		return sent
	}
}

func setDeliveryState(
	sent, arrived, mailbox, failed domain.State,
) func(t *domain.Trade, ms domain.MessageState) {
	return func(t *domain.Trade, ms domain.MessageState) {
		t.SetStateIfValidTransitionTo(
			deliveryState(ms, sent, arrived, mailbox, failed),
		)
	}
}

func disputeAgent(t *domain.Trade) string {
	switch {
	case t.DisputeState.IsRefund():
		return t.RefundAgentAddress
	case t.DisputeState.IsMediated():
		return t.MediatorAddress
	default:
		return ""
	}
}

func isBroadcastError(err error) bool {
	var berr *broadcastError
	return errors.As(err, &berr)
}
