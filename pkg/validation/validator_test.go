package validation_test

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/receivers"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
)

var (
	params        = &chaincfg.RegressionNetParams
	lockTime      = uint32(700)
	tradeAmount   = int64(1_000_000)
	buyerDeposit  = int64(150_000)
	sellerDeposit = int64(150_000)
	depositHash   = chainhash.DoubleHashH([]byte("deposit"))
)

func newAddress(t *testing.T, seed byte) string {
	t.Helper()
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = seed
	}
	key, _ := btcec.PrivKeyFromBytes(buf)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func output(t *testing.T, address string, value int64) *wire.TxOut {
	addr, err := btcutil.DecodeAddress(address, params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return wire.NewTxOut(value, script)
}

func delayedPayoutTx(t *testing.T, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&depositHash, 0), nil, nil))
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	escrow.ApplyLockTime(tx, lockTime)
	return tx
}

func TestValidateDelayedPayout(t *testing.T) {
	current := newAddress(t, 1)
	defaultAddr := newAddress(t, 2)
	historical := newAddress(t, 3)
	amount := tradeAmount + buyerDeposit + sellerDeposit
	v, err := validation.NewValidator(params, false)
	require.NoError(t, err)

	args := func(tx *wire.MsgTx) validation.DelayedPayoutArgs {
		return validation.DelayedPayoutArgs{
			Tx:            tx,
			LockTime:      lockTime,
			TradeAmount:   tradeAmount,
			BuyerDeposit:  buyerDeposit,
			SellerDeposit: sellerDeposit,
			Donation: validation.DonationAddresses{
				Current: current,
				Default: defaultAddr,
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		for _, address := range []string{current, defaultAddr} {
			tx := delayedPayoutTx(t, output(t, address, amount))
			require.NoError(t, v.ValidateDelayedPayout(args(tx)))
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		twoInputs := delayedPayoutTx(t, output(t, current, amount))
		twoInputs.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&depositHash, 1), nil, nil))

		wrongLockTime := delayedPayoutTx(t, output(t, current, amount))
		wrongLockTime.LockTime = lockTime + 1

		finalSequence := delayedPayoutTx(t, output(t, current, amount))
		finalSequence.TxIn[0].Sequence = wire.MaxTxInSequenceNum

		tests := []struct {
			name        string
			tx          *wire.MsgTx
			expectedErr interface{}
		}{
			{"missing tx", nil, &validation.MissingTransactionError{}},
			{"two inputs", twoInputs, &validation.InvalidStructureError{}},
			{
				"two outputs",
				delayedPayoutTx(t, output(t, current, amount/2), output(t, current, amount/2)),
				&validation.InvalidStructureError{},
			},
			{"wrong lock time", wrongLockTime, &validation.InvalidLockTimeError{}},
			{"final sequence", finalSequence, &validation.InvalidLockTimeError{}},
			{
				"amount mismatch",
				delayedPayoutTx(t, output(t, current, amount-1)),
				&validation.AmountMismatchError{},
			},
			{
				"historical donation address",
				delayedPayoutTx(t, output(t, historical, amount)),
				&validation.DonationAddressError{},
			},
		}

		for _, tt := range tests {
			err := v.ValidateDelayedPayout(args(tt.tx))
			require.Error(t, err, tt.name)

			var verr validation.ValidationError
			require.True(t, errors.As(err, &verr), tt.name)
			require.IsType(t, tt.expectedErr, err, tt.name)
		}
	})

	t.Run("donation address error details", func(t *testing.T) {
		t.Parallel()

		err := v.ValidateDelayedPayout(
			args(delayedPayoutTx(t, output(t, historical, amount))),
		)
		var derr *validation.DonationAddressError
		require.True(t, errors.As(err, &derr))
		require.Equal(t, historical, derr.Address)
		require.Equal(t, current, derr.CurrentAddress)
		require.Equal(t, defaultAddr, derr.DefaultAddress)
	})

	t.Run("faulty txs allowed", func(t *testing.T) {
		t.Parallel()

		faulty, err := validation.NewValidator(params, true)
		require.NoError(t, err)

		tx := delayedPayoutTx(t, output(t, current, amount-1))
		require.NoError(t, faulty.ValidateDelayedPayout(args(tx)))

		// Lock time and address are always checked.
		tx.LockTime = 0
		require.Error(t, faulty.ValidateDelayedPayout(args(tx)))
		tx = delayedPayoutTx(t, output(t, historical, amount))
		require.Error(t, faulty.ValidateDelayedPayout(args(tx)))
	})
}

func TestValidateDelayedPayoutReceivers(t *testing.T) {
	v, err := validation.NewValidator(params, false)
	require.NoError(t, err)
	list := []receivers.Receiver{
		{Amount: 600_000, Address: newAddress(t, 5)},
		{Amount: 690_000, Address: newAddress(t, 6)},
	}
	args := validation.DelayedPayoutArgs{
		LockTime:      lockTime,
		TradeAmount:   tradeAmount,
		BuyerDeposit:  buyerDeposit,
		SellerDeposit: sellerDeposit,
	}

	args.Tx = delayedPayoutTx(
		t, output(t, list[0].Address, 600_000), output(t, list[1].Address, 690_000),
	)
	require.NoError(t, v.ValidateDelayedPayoutReceivers(args, list))

	args.Tx = delayedPayoutTx(
		t, output(t, list[0].Address, 690_000), output(t, list[1].Address, 600_000),
	)
	var rerr *validation.InvalidReceiversError
	require.True(t, errors.As(v.ValidateDelayedPayoutReceivers(args, list), &rerr))

	args.Tx = delayedPayoutTx(t, output(t, list[0].Address, 600_000))
	require.True(t, errors.As(v.ValidateDelayedPayoutReceivers(args, list), &rerr))

	greedy := []receivers.Receiver{{Amount: 1_400_000, Address: newAddress(t, 5)}}
	args.Tx = delayedPayoutTx(t, output(t, greedy[0].Address, 1_400_000))
	var aerr *validation.AmountMismatchError
	require.True(t, errors.As(v.ValidateDelayedPayoutReceivers(args, greedy), &aerr))
}

func TestValidatePayoutInput(t *testing.T) {
	v, err := validation.NewValidator(params, false)
	require.NoError(t, err)
	tx := delayedPayoutTx(t, output(t, newAddress(t, 1), 1000))

	require.NoError(t, v.ValidatePayoutInput(tx, depositHash))

	var ierr *validation.InvalidInputError
	other := chainhash.DoubleHashH([]byte("other"))
	require.True(t, errors.As(v.ValidatePayoutInput(tx, other), &ierr))

	tx.TxIn[0].PreviousOutPoint.Index = 1
	require.True(t, errors.As(v.ValidatePayoutInput(tx, depositHash), &ierr))
}

func TestValidateDepositInputs(t *testing.T) {
	t.Parallel()

	v, err := validation.NewValidator(params, false)
	require.NoError(t, err)

	rawInput := func(seed byte, index uint32) escrow.RawTransactionInput {
		parent := wire.NewMsgTx(wire.TxVersion)
		parent.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 0), nil, nil))
		parent.AddTxOut(output(t, newAddress(t, seed), 100_000))
		parent.AddTxOut(output(t, newAddress(t, seed), 200_000))
		in, err := escrow.NewRawTransactionInput(parent, index)
		require.NoError(t, err)
		return in
	}
	deposit := func(inputs ...escrow.RawTransactionInput) *wire.MsgTx {
		tx := wire.NewMsgTx(wire.TxVersion)
		for _, in := range inputs {
			txIn, err := in.TxIn(nil)
			require.NoError(t, err)
			tx.AddTxIn(txIn)
		}
		return tx
	}

	buyer1, buyer2 := rawInput(1, 0), rawInput(1, 1)
	seller := rawInput(2, 1)
	buyerInputs := []escrow.RawTransactionInput{buyer1, buyer2}
	sellerInputs := []escrow.RawTransactionInput{seller}

	tests := []struct {
		name        string
		tx          *wire.MsgTx
		sellers     []escrow.RawTransactionInput
		expectedErr interface{}
	}{
		{
			name:    "buyer inputs first",
			tx:      deposit(buyer1, buyer2, seller),
			sellers: sellerInputs,
		},
		{
			name:        "missing tx",
			sellers:     sellerInputs,
			expectedErr: &validation.MissingTransactionError{},
		},
		{
			name:        "seller inputs first",
			tx:          deposit(seller, buyer1, buyer2),
			sellers:     sellerInputs,
			expectedErr: &validation.InvalidInputError{},
		},
		{
			name:        "swapped buyer inputs",
			tx:          deposit(buyer2, buyer1, seller),
			sellers:     sellerInputs,
			expectedErr: &validation.InvalidInputError{},
		},
		{
			name:        "extra input",
			tx:          deposit(buyer1, buyer2, seller, rawInput(3, 0)),
			sellers:     sellerInputs,
			expectedErr: &validation.InvalidStructureError{},
		},
		{
			name:        "seller not funding",
			tx:          deposit(buyer1, buyer2),
			expectedErr: &validation.InvalidInputError{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := v.ValidateDepositInputs(tt.tx, buyerInputs, tt.sellers)
			switch expected := tt.expectedErr.(type) {
			case nil:
				require.NoError(t, err)
			case *validation.MissingTransactionError:
				require.True(t, errors.As(err, &expected))
			case *validation.InvalidInputError:
				require.True(t, errors.As(err, &expected))
			case *validation.InvalidStructureError:
				require.True(t, errors.As(err, &expected))
			}
		})
	}
}

func TestCheckDisputeReplay(t *testing.T) {
	mediation := validation.DisputeRecord{
		TradeID: "trade", DepositTxID: "dep", DelayedPayoutTxID: "dpt",
	}
	refund := mediation
	refund.IsRefund = true

	tests := []struct {
		name     string
		disputes []validation.DisputeRecord
		isValid  bool
	}{
		{"mediation and refund", []validation.DisputeRecord{mediation, refund}, true},
		{"replayed trade", []validation.DisputeRecord{mediation, refund, refund}, false},
		{
			"replayed deposit",
			[]validation.DisputeRecord{
				mediation,
				{TradeID: "a", DepositTxID: "dep", DelayedPayoutTxID: "x"},
				{TradeID: "b", DepositTxID: "dep", DelayedPayoutTxID: "y"},
			},
			false,
		},
		{
			"refund without delayed payout",
			[]validation.DisputeRecord{{TradeID: "trade", IsRefund: true}},
			false,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validation.CheckDisputeReplay(tt.disputes)
			if tt.isValid {
				require.NoError(t, err)
				return
			}
			var rerr *validation.DisputeReplayError
			require.True(t, errors.As(err, &rerr))
		})
	}
}
