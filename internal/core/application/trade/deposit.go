package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/receivers"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
)

// takerOnInputsForDepositTxResponse completes and signs the deposit tx
// prepared by the maker and asks the maker to sign the delayed payout tx.
// The deposit tx is published only once the delayed payout tx is signed by
// both parties.
func (m *Manager) takerOnInputsForDepositTxResponse(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.Contract != nil {
		return nil
	}
	var res InputsForDepositTxResponse
	if err := decode(env, &res); err != nil {
		return err
	}

	height, err := m.cfg.DaoParams.ChainHeight(ctx)
	if err != nil {
		return err
	}
	if res.LockTime <= uint32(height) {
		return &validation.InvalidLockTimeError{Reason: fmt.Sprintf(
			"lock time %d is not in the future of height %d", res.LockTime, height,
		)}
	}

	pm := &t.ProcessModel
	pm.PeerPubKey = res.MakerPubKey
	pm.PeerMultisigPubKey = res.MakerMultisigPubKey
	pm.PeerPayoutAddress = res.MakerPayoutAddress
	pm.PeerPaymentAccount = res.MakerPaymentAccount
	pm.PeerRawInputs = res.MakerRawInputs

	c := domain.Contract{
		Offer:                      t.Offer,
		TradeAmount:                t.Amount,
		TradePrice:                 t.Price,
		TakerFeeTxID:               t.TakerFeeTxID,
		IsBuyerMakerAndSellerTaker: t.Role.IsSeller(),
		MakerAddress:               t.PeerAddress,
		TakerAddress:               m.cfg.Messenger.Address(),
		MediatorAddress:            t.MediatorAddress,
		RefundAgentAddress:         t.RefundAgentAddress,
		MakerPaymentAccount:        pm.PeerPaymentAccount,
		TakerPaymentAccount:        pm.MyPaymentAccount,
		MakerPubKey:                pm.PeerPubKey,
		TakerPubKey:                pm.MyPubKey,
		MakerPayoutAddress:         pm.PeerPayoutAddress,
		TakerPayoutAddress:         pm.MyPayoutAddress,
		MakerMultisigPubKey:        pm.PeerMultisigPubKey,
		TakerMultisigPubKey:        pm.MyMultisigPubKey,
		ArbitratorMultisigPubKey:   t.ArbitratorPubKey,
		LockTime:                   res.LockTime,
	}
	if err := c.CheckPaymentMethods(); err != nil {
		return err
	}
	if err := c.VerifySignature(res.MakerPubKey, res.MakerContractSignature); err != nil {
		return err
	}
	c.MakerSignature = res.MakerContractSignature
	signingKey, err := m.wallet.SigningKey(ctx)
	if err != nil {
		return err
	}
	if c.TakerSignature, err = c.Sign(signingKey); err != nil {
		return err
	}
	hash, err := c.Hash()
	if err != nil {
		return err
	}

	buyerInputs, sellerInputs := buyerSellerInputs(t)
	deposit, err := m.assembler.FinalizeDepositTransaction(escrow.FinalizeDepositArgs{
		TakerIsSeller:   t.Role.IsSeller(),
		ContractHash:    hash,
		MakersDepositTx: res.PreparedDepositTx,
		MultisigAmount:  btcutil.Amount(t.MultisigAmount()),
		BuyerInputs:     buyerInputs,
		SellerInputs:    sellerInputs,
		Keys:            c.EscrowKeys(),
	})
	if err != nil {
		return err
	}
	if err := m.validator.ValidateDepositInputs(
		deposit, buyerInputs, sellerInputs,
	); err != nil {
		return err
	}
	if err := m.checkChangeOutput(deposit, pm.MyChange); err != nil {
		return err
	}

	t.Contract = &c
	t.ContractHash = hash
	t.LockTime = c.LockTime

	delayedPayout, err := m.createDelayedPayout(ctx, t, deposit)
	if err != nil {
		return err
	}
	key, err := m.multisigKey(ctx, t)
	if err != nil {
		return err
	}
	sig, err := m.assembler.SignDelayedPayout(delayedPayout, c.EscrowKeys(), key)
	if err != nil {
		return err
	}

	depositBuf, err := escrow.SerializeTx(deposit)
	if err != nil {
		return err
	}
	delayedPayoutBuf, err := escrow.SerializeTx(delayedPayout)
	if err != nil {
		return err
	}
	t.DepositTx = depositBuf
	t.DelayedPayoutTx = delayedPayoutBuf
	pm.DelayedPayoutSig = sig
	t.SetStateIfValidTransitionTo(domain.StateTakerReceivedPublishDepositTxRequest)

	s.sendToPeer(MsgDelayedPayoutTxSignatureReq, DelayedPayoutTxSignatureRequest{
		DepositTx:              depositBuf,
		DelayedPayoutTx:        delayedPayoutBuf,
		TakerSignature:         sig,
		TakerContractSignature: c.TakerSignature,
	}, nil)
	m.armTimeout(t)
	return nil
}

// makerOnDelayedPayoutTxSignatureRequest verifies the deposit tx signed by
// the taker against the maker's own copy, validates the delayed payout tx
// and signs it.
func (m *Manager) makerOnDelayedPayoutTxSignatureRequest(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if len(t.DepositTx) > 0 {
		return nil
	}
	c, err := contract(t)
	if err != nil {
		return err
	}
	var req DelayedPayoutTxSignatureRequest
	if err := decode(env, &req); err != nil {
		return err
	}

	takersTx, err := escrow.DeserializeTx(req.DepositTx)
	if err != nil {
		return err
	}
	makersTx, err := escrow.DeserializeTx(t.ProcessModel.PreparedDepositTx)
	if err != nil {
		return err
	}
	buyerInputs, sellerInputs := buyerSellerInputs(t)
	if err := m.validator.ValidateDepositInputs(
		takersTx, buyerInputs, sellerInputs,
	); err != nil {
		return err
	}
	deposit, err := m.assembler.MergeDepositSignatures(
		makersTx, takersTx, t.Role.IsBuyer(), buyerInputs, sellerInputs,
	)
	if err != nil {
		return err
	}
	if err := m.checkChangeOutput(deposit, t.ProcessModel.MyChange); err != nil {
		return err
	}

	signed := *c
	signed.TakerSignature = req.TakerContractSignature
	if err := signed.VerifySignatures(); err != nil {
		return err
	}

	delayedPayout, err := escrow.DeserializeTx(req.DelayedPayoutTx)
	if err != nil {
		return err
	}
	if err := m.validateDelayedPayout(ctx, t, delayedPayout, deposit); err != nil {
		return err
	}

	keys := c.EscrowKeys()
	key, err := m.multisigKey(ctx, t)
	if err != nil {
		return err
	}
	sig, err := m.assembler.SignDelayedPayout(delayedPayout, keys, key)
	if err != nil {
		return err
	}
	buyerSig, sellerSig := buyerSellerSigs(t, sig, req.TakerSignature)
	finalized, err := m.assembler.FinalizeDelayedPayout(
		delayedPayout, keys, buyerSig, sellerSig,
		deposit.TxOut[escrow.MultisigOutputIndex].Value,
	)
	if err != nil {
		return err
	}

	if t.DepositTx, err = escrow.SerializeTx(deposit); err != nil {
		return err
	}
	if t.DelayedPayoutTx, err = escrow.SerializeTx(finalized); err != nil {
		return err
	}
	t.Contract = &signed
	t.ProcessModel.DelayedPayoutSig = sig
	t.Version++

	s.sendToPeer(MsgDelayedPayoutTxSignatureRes, DelayedPayoutTxSignatureResponse{
		MakerSignature: sig,
	}, nil)
	m.armTimeout(t)
	return nil
}

// takerOnDelayedPayoutTxSignatureResponse finalizes the delayed payout tx
// with the maker's signature and publishes the deposit tx.
func (m *Manager) takerOnDelayedPayoutTxSignatureResponse(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.DepositTxID != "" {
		return nil
	}
	c, err := contract(t)
	if err != nil {
		return err
	}
	deposit, err := depositTx(t)
	if err != nil {
		return err
	}
	var res DelayedPayoutTxSignatureResponse
	if err := decode(env, &res); err != nil {
		return err
	}

	delayedPayout, err := escrow.DeserializeTx(t.DelayedPayoutTx)
	if err != nil {
		return err
	}
	buyerSig, sellerSig := buyerSellerSigs(
		t, t.ProcessModel.DelayedPayoutSig, res.MakerSignature,
	)
	finalized, err := m.assembler.FinalizeDelayedPayout(
		delayedPayout, c.EscrowKeys(), buyerSig, sellerSig,
		deposit.TxOut[escrow.MultisigOutputIndex].Value,
	)
	if err != nil {
		return err
	}
	if t.DelayedPayoutTx, err = escrow.SerializeTx(finalized); err != nil {
		return err
	}
	t.Version++

	if err := m.broadcast(ctx, "deposit", deposit); err != nil {
		return err
	}
	t.DepositTxID = deposit.TxHash().String()
	t.StartDate = time.Now().Unix()
	t.UpdateTradePeriod(time.Now())

	msg := DepositTxPublishedMessage{DepositTxID: t.DepositTxID}
	if t.Role.IsSeller() {
		t.SetStateIfValidTransitionTo(domain.StateSellerPublishedDepositTx)
		s.sendToPeer(MsgDepositTxPublished, msg, setDeliveryState(
			domain.StateSellerSentDepositTxPublishedMsg,
			domain.StateSellerSawArrivedDepositTxPublishedMsg,
			domain.StateSellerStoredInMailboxDepositTxPublishedMsg,
			domain.StateSellerSendFailedDepositTxPublishedMsg,
		))
	} else {
		t.SetStateIfValidTransitionTo(domain.StateBuyerSawDepositTxInNetwork)
		s.sendToPeer(MsgDepositTxPublished, msg, nil)
	}
	m.watchDeposit(t.ID, t.DepositTxID)
	log.Infof("trade %s: published deposit tx %s", t.ShortID(), t.DepositTxID)
	return nil
}

// makerOnDepositTxPublished records the deposit tx published by the taker.
func (m *Manager) makerOnDepositTxPublished(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.DepositTxID != "" {
		return nil
	}
	if len(t.DepositTx) <= 0 {
		return errMessageNotReady
	}
	var msg DepositTxPublishedMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	deposit, err := depositTx(t)
	if err != nil {
		return err
	}
	if txid := deposit.TxHash().String(); txid != msg.DepositTxID {
		return &escrow.TransactionVerificationError{Reason: fmt.Sprintf(
			"published deposit tx %s does not match %s", msg.DepositTxID, txid,
		)}
	}

	t.DepositTxID = msg.DepositTxID
	t.StartDate = time.Now().Unix()
	t.UpdateTradePeriod(time.Now())
	if t.Role.IsBuyer() {
		t.SetStateIfValidTransitionTo(domain.StateBuyerReceivedDepositTxPublishedMsg)
	} else {
		t.SetStateIfValidTransitionTo(domain.StateSellerPublishedDepositTx)
	}

	if err := m.repo.OfferRepository().UpdateOffer(
		ctx, t.Offer.ID, func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			o.State = domain.OpenOfferTaken
			return o, nil
		},
	); err != nil {
		log.WithError(err).Warnf("trade %s: failed to mark offer as taken", t.ShortID())
	}
	m.watchDeposit(t.ID, t.DepositTxID)
	return nil
}

func (m *Manager) watchDeposit(tradeID, txid string) {
	m.cfg.ConfidenceNotifier.Watch(txid, 1, func(txid string, conf ports.Confidence) {
		go m.onDepositConfidence(tradeID, txid, conf)
	})
}

func (m *Manager) watchPayout(tradeID, txid string) {
	m.cfg.ConfidenceNotifier.Watch(txid, 1, func(txid string, conf ports.Confidence) {
		go m.onPayoutConfidence(tradeID, txid, conf)
	})
}

// onDepositConfidence moves the trade to the deposit confirmed state with
// the first confirmation of the deposit tx and replays the messages waiting
// for it.
func (m *Manager) onDepositConfidence(tradeID, txid string, conf ports.Confidence) {
	ctx := context.Background()
	unlock := m.locks.Lock(tradeID)
	defer unlock()

	if err := m.withTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.DepositTxID != txid || t.Collection != domain.CollectionPending {
			return nil
		}
		switch conf.Status {
		case ports.ConfidenceBuilding:
			if conf.Depth >= 1 && !t.IsDepositConfirmed() {
				t.SetStateIfValidTransitionTo(domain.StateDepositConfirmedInBlockChain)
				m.cfg.ConfidenceNotifier.Unwatch(txid)
				log.Infof("trade %s: deposit tx confirmed", t.ShortID())
			}
		case ports.ConfidencePending:
			if t.Role.IsBuyer() && t.State < domain.StateBuyerSawDepositTxInNetwork {
				t.SetStateIfValidTransitionTo(domain.StateBuyerSawDepositTxInNetwork)
			}
		case ports.ConfidenceDead:
			return m.moveToFailed(ctx, t, fmt.Sprintf(
				"deposit tx %s was rejected by the network", txid,
			))
		}
		return nil
	}); err != nil {
		log.WithError(err).Warnf("trade %s: failed to update deposit confidence", tradeID)
		return
	}
	m.processPending(ctx, tradeID)
}

// onPayoutConfidence tracks the payout tx of whatever kind in the network.
func (m *Manager) onPayoutConfidence(tradeID, txid string, conf ports.Confidence) {
	if conf.Status != ports.ConfidencePending && conf.Status != ports.ConfidenceBuilding {
		return
	}
	ctx := context.Background()
	if err := m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.PayoutTxID != txid {
			return nil
		}
		switch {
		case t.CancellationState.IsAccepted():
			t.SetCancellationState(domain.CancellationPayoutTxSeenInNetwork)
		case t.MediationResultState >= domain.MediationPayoutTxPublished:
			t.SetMediationResultState(domain.MediationPayoutTxSeenInNetwork)
		case t.Role.IsBuyer() && t.IsPayoutPublished() &&
			t.State < domain.StateBuyerSawPayoutTxInNetwork:
			t.SetStateIfValidTransitionTo(domain.StateBuyerSawPayoutTxInNetwork)
		}
		if conf.Status == ports.ConfidenceBuilding && conf.Depth >= 1 {
			m.cfg.ConfidenceNotifier.Unwatch(txid)
		}
		return nil
	}); err != nil {
		log.WithError(err).Warnf("trade %s: failed to update payout confidence", tradeID)
	}
}

// createDelayedPayout builds the delayed payout tx of the trade: in
// receivers mode it pays the compensation claims holders, otherwise the
// current donation address. Either way it moves the escrow minus the tx
// fee.
func (m *Manager) createDelayedPayout(
	ctx context.Context, t *domain.Trade, deposit *wire.MsgTx,
) (*wire.MsgTx, error) {
	donation, err := m.cfg.DaoParams.DonationAddresses(ctx)
	if err != nil {
		return nil, err
	}
	amount := t.MultisigAmount() - t.TxFee

	var outputs []escrow.Output
	if m.cfg.DaoParams.UseReceivers() {
		receivers, err := m.delayedPayoutReceivers(ctx, t, donation)
		if err != nil {
			return nil, err
		}
		for _, r := range receivers {
			outputs = append(outputs, escrow.Output{
				Address: r.Address,
				Amount:  btcutil.Amount(r.Amount),
			})
		}
	} else {
		outputs = []escrow.Output{{
			Address: donation.Current,
			Amount:  btcutil.Amount(amount),
		}}
	}
	return m.assembler.CreateDelayedPayout(deposit, outputs, t.LockTime)
}

// validateDelayedPayout checks the delayed payout tx built by the peer
// before signing it.
func (m *Manager) validateDelayedPayout(
	ctx context.Context, t *domain.Trade, tx, deposit *wire.MsgTx,
) error {
	if err := m.validator.ValidatePayoutInput(tx, deposit.TxHash()); err != nil {
		return err
	}
	donation, err := m.cfg.DaoParams.DonationAddresses(ctx)
	if err != nil {
		return err
	}
	args := validation.DelayedPayoutArgs{
		Tx:            tx,
		LockTime:      t.LockTime,
		TradeAmount:   t.Amount,
		BuyerDeposit:  t.BuyerSecurityDeposit(),
		SellerDeposit: t.SellerSecurityDeposit(),
		Donation:      donation,
	}
	if !m.cfg.DaoParams.UseReceivers() {
		return m.validator.ValidateDelayedPayout(args)
	}
	expected, err := m.delayedPayoutReceivers(ctx, t, donation)
	if err != nil {
		return err
	}
	return m.validator.ValidateDelayedPayoutReceivers(args, expected)
}

// delayedPayoutReceivers returns the outputs of the delayed payout tx in
// receivers mode. Claims are selected at a height derived from the contract
// lock time so that both traders pick the same snapshot whenever they
// compute it.
func (m *Manager) delayedPayoutReceivers(
	ctx context.Context, t *domain.Trade, donation validation.DonationAddresses,
) ([]receivers.Receiver, error) {
	dist, err := receivers.NewDistributor(m.cfg.Network, donation.Default, 0)
	if err != nil {
		return nil, err
	}
	height := int32(t.LockTime) - int32(m.cfg.LockTimeDelay)
	selectionHeight := receivers.SelectionHeight(
		height, m.cfg.DaoParams.GenesisHeight(), receivers.SelectionGrid,
	)
	claims, err := m.cfg.DaoParams.CompensationClaims(ctx, selectionHeight)
	if err != nil {
		return nil, err
	}
	return dist.Receivers(
		claims, selectionHeight, t.MultisigAmount()-t.TxFee, t.TxFee,
	), nil
}
