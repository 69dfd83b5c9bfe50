package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// CreateOffer publishes a new offer of the local node and returns its id.
func (m *Manager) CreateOffer(
	ctx context.Context, offer domain.Offer, account domain.PaymentAccountPayload,
) (string, error) {
	if offer.ID == "" {
		offer.ID = domain.NewOfferID()
	}
	offer.MakerAddress = m.cfg.Messenger.Address()
	offer.CreatedAt = time.Now().Unix()
	if err := offer.Validate(); err != nil {
		return "", err
	}
	if account.PaymentMethodID == "" {
		account.PaymentMethodID = offer.PaymentMethodID
	}
	if err := m.repo.OfferRepository().AddOffer(ctx, domain.OpenOffer{
		Offer:          offer,
		PaymentAccount: account,
		State:          domain.OpenOfferAvailable,
	}); err != nil {
		return "", err
	}
	log.Infof("created offer %s", offer.ID)
	return offer.ID, nil
}

// CancelOffer withdraws an offer not taken yet.
func (m *Manager) CancelOffer(ctx context.Context, offerID string) error {
	return m.repo.OfferRepository().UpdateOffer(
		ctx, offerID, func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			if !o.IsAvailable() {
				return nil, domain.ErrOfferNotAvailable
			}
			o.State = domain.OpenOfferCanceled
			return o, nil
		},
	)
}

// TakeOfferArgs are the terms the taker accepts an offer with.
type TakeOfferArgs struct {
	Offer              domain.Offer
	Amount             int64
	TxFee              int64
	TakerFee           int64
	TakerFeeTxID       string
	PaymentAccount     domain.PaymentAccountPayload
	MediatorAddress    string
	RefundAgentAddress string
	// ArbitratorPubKey makes the escrow a 2-of-3 multisig. Without it the
	// escrow is a 2-of-2 between the traders.
	ArbitratorPubKey []byte
}

// TakeOffer starts a trade as taker of the given offer. The trade is created
// only if the wallet doesn't have too many unconfirmed txs and the maker
// confirms the offer is still available.
func (m *Manager) TakeOffer(
	ctx context.Context, args TakeOfferArgs,
) (*domain.Trade, error) {
	if err := m.checkUnconfirmedTxs(ctx); err != nil {
		return nil, err
	}
	offer := args.Offer
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if !offer.IsValidAmount(args.Amount) {
		return nil, domain.ErrOfferInvalidAmount
	}
	if offer.MakerAddress == "" || offer.MakerAddress == m.cfg.Messenger.Address() {
		return nil, fmt.Errorf("invalid maker address")
	}
	if _, err := m.repo.TradeRepository().GetTrade(ctx, offer.ID); err == nil {
		return nil, domain.ErrTradeAlreadyExists
	}

	if err := m.requestOfferAvailability(ctx, offer); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(offer.ID)
	defer unlock()

	t, err := domain.NewTrade(
		offer, domain.TakerRole(offer.Direction), args.Amount, args.TxFee,
		args.TakerFee, offer.MakerAddress,
	)
	if err != nil {
		return nil, err
	}
	t.TakerFeeTxID = args.TakerFeeTxID
	t.MediatorAddress = args.MediatorAddress
	t.RefundAgentAddress = args.RefundAgentAddress
	t.ArbitratorPubKey = args.ArbitratorPubKey
	t.ProcessModel.MyPaymentAccount = args.PaymentAccount
	if t.ProcessModel.MyPaymentAccount.PaymentMethodID == "" {
		t.ProcessModel.MyPaymentAccount.PaymentMethodID = offer.PaymentMethodID
	}

	if err := m.prepareFunding(ctx, t); err != nil {
		return nil, err
	}

	pm := t.ProcessModel
	s := &session{trade: t}
	s.sendToPeer(MsgInputsForDepositTxRequest, InputsForDepositTxRequest{
		Offer:               offer,
		TradeAmount:         t.Amount,
		TxFee:               t.TxFee,
		TakerFee:            t.TakerFee,
		TakerFeeTxID:        t.TakerFeeTxID,
		TakerRawInputs:      pm.MyRawInputs,
		TakerChange:         pm.MyChange,
		TakerPayoutAddress:  pm.MyPayoutAddress,
		TakerMultisigPubKey: pm.MyMultisigPubKey,
		TakerPubKey:         pm.MyPubKey,
		TakerPaymentAccount: pm.MyPaymentAccount,
		MediatorAddress:     t.MediatorAddress,
		RefundAgentAddress:  t.RefundAgentAddress,
		ArbitratorPubKey:    t.ArbitratorPubKey,
	}, nil)
	t.SetStateIfValidTransitionTo(domain.StateTakerPublishedTakerFeeTx)
	m.armTimeout(t)

	if err := m.createTrade(ctx, s); err != nil {
		m.stopTimeout(t.ID)
		m.releaseAddresses(ctx, t.ID)
		return nil, err
	}
	log.Infof("took offer %s as %s", offer.ID, t.Role)
	return t, nil
}

func (m *Manager) checkUnconfirmedTxs(ctx context.Context) error {
	count, err := m.wallet.UnconfirmedTxCount(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get unconfirmed tx count")
		return ErrServiceUnavailable
	}
	if count > m.cfg.MaxUnconfirmedTxs {
		return ErrTooManyUnconfirmedTxs
	}
	return nil
}

// prepareFunding reserves the trade addresses and selects the local deposit
// inputs. Addresses are released if no inputs can be selected.
func (m *Manager) prepareFunding(ctx context.Context, t *domain.Trade) error {
	addresses, err := m.wallet.ReserveAddresses(ctx, t.ID)
	if err != nil {
		return err
	}
	signingKey, err := m.wallet.SigningKey(ctx)
	if err != nil {
		m.releaseAddresses(ctx, t.ID)
		return err
	}

	funding, err := m.assembler.BuildEscrowFundingInputs(ctx, escrow.FundingArgs{
		InputAmount:      btcutil.Amount(t.MyInputAmount()),
		TxFee:            btcutil.Amount(t.TxFee),
		FundingAddress:   addresses.Funding,
		ChangeAddress:    addresses.Change,
		UseSavingsWallet: m.cfg.UseSavingsWallet,
	})
	if err != nil {
		m.releaseAddresses(ctx, t.ID)
		return err
	}

	pm := &t.ProcessModel
	pm.MyPubKey = signingKey.PubKey().SerializeCompressed()
	pm.MyMultisigPubKey = addresses.MultisigPubKey
	pm.MyPayoutAddress = addresses.Payout
	pm.MyFundingAddress = addresses.Funding
	pm.MyChangeAddress = addresses.Change
	pm.MyRawInputs = funding.Inputs
	pm.MyChange = changePtr(funding.Change)
	return nil
}

func (m *Manager) releaseAddresses(ctx context.Context, tradeID string) {
	if err := m.wallet.ReleaseAddresses(ctx, tradeID); err != nil {
		log.WithError(err).Warnf("trade %s: failed to release addresses", tradeID)
	}
}

func (m *Manager) requestOfferAvailability(
	ctx context.Context, offer domain.Offer,
) error {
	ch := make(chan OfferAvailabilityResponse, 1)
	m.availabilityLock.Lock()
	m.availability[offer.ID] = ch
	m.availabilityLock.Unlock()
	defer func() {
		m.availabilityLock.Lock()
		delete(m.availability, offer.ID)
		m.availabilityLock.Unlock()
	}()

	state := m.send(
		ctx, offer.ID, offer.MakerAddress, MsgOfferAvailabilityRequest,
		OfferAvailabilityRequest{
			OfferID:      offer.ID,
			TakerAddress: m.cfg.Messenger.Address(),
		},
	)
	// The maker must be online to take the offer.
	if state == domain.MessageStateSendFailed ||
		state == domain.MessageStateStoredInMailbox {
		return fmt.Errorf("%w: maker is offline", ErrOfferUnavailable)
	}

	select {
	case res := <-ch:
		if !res.Available {
			return fmt.Errorf("%w: %s", ErrOfferUnavailable, res.Reason)
		}
		return nil
	case <-time.After(m.cfg.OfferAvailabilityTimeout):
		return ErrPeerTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) onOfferAvailabilityRequest(ctx context.Context, env ports.Envelope) {
	var req OfferAvailabilityRequest
	if err := decode(env, &req); err != nil {
		log.WithError(err).Debug("dropping offer availability request")
		return
	}
	res := OfferAvailabilityResponse{OfferID: req.OfferID, Available: true}
	if err := m.checkOfferAvailable(ctx, req.OfferID); err != nil {
		res.Available = false
		res.Reason = err.Error()
	}
	m.send(ctx, req.OfferID, env.Sender, MsgOfferAvailabilityResponse, res)
}

func (m *Manager) checkOfferAvailable(ctx context.Context, offerID string) error {
	if err := m.checkUnconfirmedTxs(ctx); err != nil {
		return err
	}
	offer, err := m.repo.OfferRepository().GetOffer(ctx, offerID)
	if err != nil {
		return domain.ErrOfferNotFound
	}
	if !offer.IsAvailable() {
		return domain.ErrOfferNotAvailable
	}
	if _, err := m.repo.TradeRepository().GetTrade(ctx, offerID); err == nil {
		return domain.ErrOfferNotAvailable
	}
	return nil
}

func (m *Manager) onOfferAvailabilityResponse(env ports.Envelope) {
	var res OfferAvailabilityResponse
	if err := decode(env, &res); err != nil {
		log.WithError(err).Debug("dropping offer availability response")
		return
	}
	m.availabilityLock.Lock()
	ch, ok := m.availability[res.OfferID]
	m.availabilityLock.Unlock()
	if !ok {
		log.Debugf("dropping late availability response for offer %s", res.OfferID)
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// onTakeOfferRequest lets the maker start the trade: it selects its own
// inputs, builds and signs the contract and the deposit tx and hands them to
// the taker.
func (m *Manager) onTakeOfferRequest(ctx context.Context, env ports.Envelope) error {
	var req InputsForDepositTxRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := m.checkOfferAvailable(ctx, env.TradeID); err != nil {
		return err
	}
	openOffer, err := m.repo.OfferRepository().GetOffer(ctx, env.TradeID)
	if err != nil {
		return err
	}
	offer := openOffer.Offer
	if !sameOffer(offer, req.Offer) {
		return fmt.Errorf("%w: offer terms do not match", domain.ErrContractMismatch)
	}

	t, err := domain.NewTrade(
		offer, domain.MakerRole(offer.Direction), req.TradeAmount, req.TxFee,
		req.TakerFee, env.Sender,
	)
	if err != nil {
		return err
	}
	t.TakerFeeTxID = req.TakerFeeTxID
	t.MediatorAddress = req.MediatorAddress
	t.RefundAgentAddress = req.RefundAgentAddress
	t.ArbitratorPubKey = req.ArbitratorPubKey

	pm := &t.ProcessModel
	pm.MyPaymentAccount = openOffer.PaymentAccount
	pm.PeerPubKey = req.TakerPubKey
	pm.PeerMultisigPubKey = req.TakerMultisigPubKey
	pm.PeerPayoutAddress = req.TakerPayoutAddress
	pm.PeerPaymentAccount = req.TakerPaymentAccount
	pm.PeerRawInputs = req.TakerRawInputs
	pm.PeerChange = req.TakerChange

	if err := m.checkPeerInputs(t); err != nil {
		return err
	}

	if err := m.prepareFunding(ctx, t); err != nil {
		return err
	}
	res, err := m.makerPrepareDeposit(ctx, t)
	if err != nil {
		m.releaseAddresses(ctx, t.ID)
		return err
	}

	s := &session{trade: t}
	s.sendToPeer(MsgInputsForDepositTxResponse, res, setDeliveryState(
		domain.StateMakerSentPublishDepositTxRequest,
		domain.StateMakerSawArrivedPublishDepositTxRequest,
		domain.StateMakerStoredInMailboxPublishDepositTxRequest,
		domain.StateMakerSendFailedPublishDepositTxRequest,
	))
	m.armTimeout(t)

	if err := m.repo.OfferRepository().UpdateOffer(
		ctx, offer.ID, func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			o.State = domain.OpenOfferReserved
			return o, nil
		},
	); err != nil {
		m.stopTimeout(t.ID)
		m.releaseAddresses(ctx, t.ID)
		return err
	}
	if err := m.createTrade(ctx, s); err != nil {
		m.stopTimeout(t.ID)
		m.releaseAddresses(ctx, t.ID)
		return err
	}
	log.Infof("offer %s taken by %s, trade started as %s", offer.ID, env.Sender, t.Role)
	return nil
}

// makerPrepareDeposit builds the contract and the maker-signed deposit tx.
func (m *Manager) makerPrepareDeposit(
	ctx context.Context, t *domain.Trade,
) (*InputsForDepositTxResponse, error) {
	height, err := m.cfg.DaoParams.ChainHeight(ctx)
	if err != nil {
		return nil, err
	}
	pm := &t.ProcessModel
	c := domain.Contract{
		Offer:                      t.Offer,
		TradeAmount:                t.Amount,
		TradePrice:                 t.Price,
		TakerFeeTxID:               t.TakerFeeTxID,
		IsBuyerMakerAndSellerTaker: t.Role.IsBuyer(),
		MakerAddress:               m.cfg.Messenger.Address(),
		TakerAddress:               t.PeerAddress,
		MediatorAddress:            t.MediatorAddress,
		RefundAgentAddress:         t.RefundAgentAddress,
		MakerPaymentAccount:        pm.MyPaymentAccount,
		TakerPaymentAccount:        pm.PeerPaymentAccount,
		MakerPubKey:                pm.MyPubKey,
		TakerPubKey:                pm.PeerPubKey,
		MakerPayoutAddress:         pm.MyPayoutAddress,
		TakerPayoutAddress:         pm.PeerPayoutAddress,
		MakerMultisigPubKey:        pm.MyMultisigPubKey,
		TakerMultisigPubKey:        pm.PeerMultisigPubKey,
		ArbitratorMultisigPubKey:   t.ArbitratorPubKey,
		LockTime:                   uint32(height) + m.cfg.LockTimeDelay,
	}
	if err := c.CheckPaymentMethods(); err != nil {
		return nil, err
	}
	hash, err := c.Hash()
	if err != nil {
		return nil, err
	}
	signingKey, err := m.wallet.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	if c.MakerSignature, err = c.Sign(signingKey); err != nil {
		return nil, err
	}

	prepared, err := m.assembler.CoSignDepositTransaction(escrow.DepositArgs{
		MakerIsBuyer:       t.Role.IsBuyer(),
		ContractHash:       hash,
		MultisigAmount:     btcutil.Amount(t.MultisigAmount()),
		TxFee:              btcutil.Amount(t.TxFee),
		Keys:               c.EscrowKeys(),
		MakerInputs:        pm.MyRawInputs,
		MakerChange:        changeOption(pm.MyChange),
		MakerChangeAddress: pm.MyChangeAddress,
		TakerInputs:        pm.PeerRawInputs,
		TakerChange:        changeOption(pm.PeerChange),
	})
	if err != nil {
		return nil, err
	}

	t.Contract = &c
	t.ContractHash = hash
	t.LockTime = c.LockTime
	pm.PreparedDepositTx = prepared.Tx

	return &InputsForDepositTxResponse{
		MakerRawInputs:         pm.MyRawInputs,
		PreparedDepositTx:      prepared.Tx,
		MakerMultisigPubKey:    pm.MyMultisigPubKey,
		MakerPayoutAddress:     pm.MyPayoutAddress,
		MakerPubKey:            pm.MyPubKey,
		MakerPaymentAccount:    pm.MyPaymentAccount,
		MakerContractSignature: c.MakerSignature,
		LockTime:               c.LockTime,
	}, nil
}

// checkPeerInputs makes sure the peer's inputs, net of its change, cover
// its share of the deposit.
func (m *Manager) checkPeerInputs(t *domain.Trade) error {
	pm := t.ProcessModel
	if len(pm.PeerRawInputs) <= 0 {
		return escrow.ErrMissingInputs
	}
	net := escrow.SumRawInputs(pm.PeerRawInputs)
	if pm.PeerChange != nil {
		net -= pm.PeerChange.Value
	}
	expected := t.SellerInputAmount()
	if t.Role.IsSeller() {
		expected = t.BuyerInputAmount()
	}
	if int64(net) < expected {
		return fmt.Errorf(
			"%w: peer inputs cover %d, expected %d",
			escrow.ErrInsufficientFunds, int64(net), expected,
		)
	}
	return nil
}

func sameOffer(a, b domain.Offer) bool {
	ba, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ba, bb)
}
