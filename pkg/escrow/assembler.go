package escrow

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	log "github.com/sirupsen/logrus"
)

// p2pkhScriptSize is the size of the change scripts used for dust checks.
const p2pkhScriptSize = 25

// CoinSource lists the coins spendable by the local wallet. A nil or empty
// list of addresses means any address of the wallet.
type CoinSource interface {
	SpendableCoins(
		ctx context.Context, addresses []string,
	) ([]RawTransactionInput, error)
}

// ChangeOutput is an optional change output of a party's deposit inputs.
type ChangeOutput struct {
	Address string         `json:"address"`
	Value   btcutil.Amount `json:"value"`
}

// Output is a generic address/amount pair.
type Output struct {
	Address string         `json:"address"`
	Amount  btcutil.Amount `json:"amount"`
}

// Assembler builds and signs the deposit, delayed payout and payout
// transactions of a trade.
type Assembler struct {
	params   *chaincfg.Params
	signer   LocalSigner
	coins    CoinSource
	relayFee btcutil.Amount
}

// NewAssembler returns a new Assembler. Signer and coin source are needed
// only for the deposit tx, they can be nil for payout-only usage.
func NewAssembler(
	params *chaincfg.Params, signer LocalSigner, coins CoinSource,
) (*Assembler, error) {
	if params == nil {
		return nil, fmt.Errorf("missing network params")
	}
	return &Assembler{
		params:   params,
		signer:   signer,
		coins:    coins,
		relayFee: txrules.DefaultRelayFeePerKb,
	}, nil
}

// Params returns the network params of the assembler.
func (a *Assembler) Params() *chaincfg.Params {
	return a.params
}

// FundingArgs are the arguments for selecting a party's deposit inputs.
type FundingArgs struct {
	// InputAmount is the amount the inputs must cover, already including the
	// party's share of the mining fee.
	InputAmount btcutil.Amount
	TxFee       btcutil.Amount
	// FundingAddress is the address reserved for the trade.
	FundingAddress string
	ChangeAddress  string
	// UseSavingsWallet allows spending from any wallet address.
	UseSavingsWallet bool
}

// FundingInputs are a party's deposit inputs with an optional change.
type FundingInputs struct {
	Inputs        []RawTransactionInput
	Change        fn.Option[ChangeOutput]
	EstimatedSize int
}

// ChangeValue returns the value of the change output, 0 if none.
func (f FundingInputs) ChangeValue() btcutil.Amount {
	return fn.MapOptionZ(f.Change, func(c ChangeOutput) btcutil.Amount {
		return c.Value
	})
}

// BuildEscrowFundingInputs selects the inputs covering args.InputAmount.
// Multiple inputs are supported but at most one change output is returned.
// A change below the dust limit is left as extra mining fee.
func (a *Assembler) BuildEscrowFundingInputs(
	ctx context.Context, args FundingArgs,
) (*FundingInputs, error) {
	if a.coins == nil {
		return nil, fmt.Errorf("missing coin source")
	}
	if args.InputAmount <= args.TxFee {
		return nil, fmt.Errorf("input amount must be greater than tx fee")
	}
	if _, err := btcutil.DecodeAddress(args.ChangeAddress, a.params); err != nil {
		return nil, fmt.Errorf("invalid change address: %s", err)
	}

	var addresses []string
	if !args.UseSavingsWallet {
		if args.FundingAddress == "" {
			return nil, fmt.Errorf("missing funding address")
		}
		addresses = []string{args.FundingAddress}
	}
	coins, err := a.coins.SpendableCoins(ctx, addresses)
	if err != nil {
		return nil, err
	}
	// Largest coins first to keep the number of inputs low.
	sort.SliceStable(coins, func(i, j int) bool {
		return coins[i].Value > coins[j].Value
	})

	selected := make([]RawTransactionInput, 0, 1)
	var total btcutil.Amount
	for _, coin := range coins {
		if total >= args.InputAmount {
			break
		}
		selected = append(selected, coin)
		total += coin.Amount()
	}
	if total < args.InputAmount {
		return nil, fmt.Errorf(
			"%w: required %s, available %s",
			ErrInsufficientFunds, args.InputAmount, total,
		)
	}

	change := fn.None[ChangeOutput]()
	if changeValue := total - args.InputAmount; changeValue > 0 {
		if a.isDust(changeValue) {
			log.Debugf(
				"dust change of %s added to mining fee", changeValue,
			)
		} else {
			change = fn.Some(ChangeOutput{args.ChangeAddress, changeValue})
		}
	}

	return &FundingInputs{
		Inputs:        selected,
		Change:        change,
		EstimatedSize: txsizes.EstimateSerializeSize(len(selected), nil, change.IsSome()),
	}, nil
}

// DepositArgs are the arguments for the maker to build the deposit tx.
type DepositArgs struct {
	MakerIsBuyer   bool
	ContractHash   []byte
	MultisigAmount btcutil.Amount
	TxFee          btcutil.Amount
	Keys           Keys
	MakerInputs    []RawTransactionInput
	MakerChange    fn.Option[ChangeOutput]
	// MakerChangeAddress receives the forced change output if neither party
	// has a change.
	MakerChangeAddress string
	TakerInputs        []RawTransactionInput
	TakerChange        fn.Option[ChangeOutput]
}

// PreparedDeposit is the deposit tx partially signed by the maker.
type PreparedDeposit struct {
	Tx          []byte
	MakerInputs []RawTransactionInput
}

// CoSignDepositTransaction builds the deposit tx out of both parties' inputs
// and signs only the maker's ones. Buyer inputs and outputs always come
// before seller ones whatever the maker role.
func (a *Assembler) CoSignDepositTransaction(
	args DepositArgs,
) (*PreparedDeposit, error) {
	if len(args.TakerInputs) <= 0 || len(args.MakerInputs) <= 0 {
		return nil, ErrMissingInputs
	}
	if a.signer == nil {
		return nil, ErrMissingSigner
	}

	buyerInputs, sellerInputs := args.TakerInputs, args.MakerInputs
	buyerChange, sellerChange := args.TakerChange, args.MakerChange
	if args.MakerIsBuyer {
		buyerInputs, sellerInputs = args.MakerInputs, args.TakerInputs
		buyerChange, sellerChange = args.MakerChange, args.TakerChange
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range append(append([]RawTransactionInput{}, buyerInputs...), sellerInputs...) {
		txIn, err := in.TxIn(nil)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(txIn)
	}

	msScript, err := args.Keys.OutputScript()
	if err != nil {
		return nil, err
	}
	opReturnScript, err := ContractHashScript(args.ContractHash)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(args.MultisigAmount), msScript))
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))

	if buyerChange.IsNone() && sellerChange.IsNone() {
		forced, err := a.forcedChange(args)
		if err != nil {
			return nil, err
		}
		if args.MakerIsBuyer {
			buyerChange = fn.Some(forced)
		} else {
			sellerChange = fn.Some(forced)
		}
	}
	for _, change := range []fn.Option[ChangeOutput]{buyerChange, sellerChange} {
		if err := a.addChange(tx, change); err != nil {
			return nil, err
		}
	}

	inputsTotal := SumRawInputs(buyerInputs) + SumRawInputs(sellerInputs)
	var outputsTotal btcutil.Amount
	for _, out := range tx.TxOut {
		outputsTotal += btcutil.Amount(out.Value)
	}
	if outputsTotal > inputsTotal {
		return nil, newVerificationError(
			"deposit outputs (%s) exceed inputs (%s)", outputsTotal, inputsTotal,
		)
	}

	start, end := len(buyerInputs), len(tx.TxIn)
	if args.MakerIsBuyer {
		start, end = 0, len(buyerInputs)
	}
	allInputs := append(append([]RawTransactionInput{}, buyerInputs...), sellerInputs...)
	if err := a.signInputs(tx, allInputs, start, end); err != nil {
		return nil, err
	}

	buf, err := SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	return &PreparedDeposit{buf, args.MakerInputs}, nil
}

// FinalizeDepositArgs are the arguments for the taker to complete the
// deposit tx prepared by the maker.
type FinalizeDepositArgs struct {
	TakerIsSeller   bool
	ContractHash    []byte
	MakersDepositTx []byte
	MultisigAmount  btcutil.Amount
	BuyerInputs     []RawTransactionInput
	SellerInputs    []RawTransactionInput
	Keys            Keys
}

// FinalizeDepositTransaction rebuilds the deposit tx from the raw inputs,
// takes over the maker's signatures, verifies the escrow and the contract
// hash outputs and signs the taker's inputs. The returned tx is fully signed
// and verified, ready to be broadcast.
func (a *Assembler) FinalizeDepositTransaction(
	args FinalizeDepositArgs,
) (*wire.MsgTx, error) {
	if len(args.BuyerInputs) <= 0 || len(args.SellerInputs) <= 0 {
		return nil, ErrMissingInputs
	}
	if a.signer == nil {
		return nil, ErrMissingSigner
	}
	makersTx, err := DeserializeTx(args.MakersDepositTx)
	if err != nil {
		return nil, newVerificationError("invalid maker's deposit tx: %s", err)
	}
	if len(makersTx.TxOut) < 2 {
		return nil, newVerificationError("maker's deposit tx has too few outputs")
	}

	msScript, err := args.Keys.OutputScript()
	if err != nil {
		return nil, err
	}
	msOut := makersTx.TxOut[MultisigOutputIndex]
	if string(msOut.PkScript) != string(msScript) {
		a.dump("maker's deposit tx", makersTx)
		return nil, newVerificationError(
			"maker's multisig output script does not match taker's one",
		)
	}
	if msOut.Value != int64(args.MultisigAmount) {
		return nil, newVerificationError(
			"maker's multisig output value %d does not match expected %d",
			msOut.Value, int64(args.MultisigAmount),
		)
	}

	allInputs := append(
		append([]RawTransactionInput{}, args.BuyerInputs...), args.SellerInputs...,
	)
	if len(makersTx.TxIn) != len(allInputs) {
		return nil, newVerificationError(
			"maker's deposit tx has %d inputs, expected %d",
			len(makersTx.TxIn), len(allInputs),
		)
	}

	// Maker inputs are the seller's ones if the taker is the buyer and
	// viceversa.
	makerStart, makerEnd := 0, len(args.BuyerInputs)
	if !args.TakerIsSeller {
		makerStart, makerEnd = len(args.BuyerInputs), len(allInputs)
	}

	tx := wire.NewMsgTx(makersTx.Version)
	for i, in := range allInputs {
		var sigScript []byte
		if i >= makerStart && i < makerEnd {
			sigScript = makersTx.TxIn[i].SignatureScript
			if len(sigScript) <= 0 {
				return nil, newVerificationError("maker's input %d is not signed", i)
			}
		}
		txIn, err := in.TxIn(sigScript)
		if err != nil {
			return nil, err
		}
		if txIn.PreviousOutPoint != makersTx.TxIn[i].PreviousOutPoint {
			return nil, newVerificationError(
				"outpoint of input %d does not match maker's one", i,
			)
		}
		tx.AddTxIn(txIn)
	}

	opReturnScript, err := ContractHashScript(args.ContractHash)
	if err != nil {
		return nil, err
	}
	hashOut := makersTx.TxOut[ContractHashOutputIndex]
	if string(hashOut.PkScript) != string(opReturnScript) || hashOut.Value != 0 {
		return nil, newVerificationError(
			"maker's contract hash output does not match taker's one",
		)
	}

	for _, out := range makersTx.TxOut {
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}
	tx.LockTime = makersTx.LockTime

	takerStart, takerEnd := len(args.BuyerInputs), len(allInputs)
	if !args.TakerIsSeller {
		takerStart, takerEnd = 0, len(args.BuyerInputs)
	}
	if err := a.signInputs(tx, allInputs, takerStart, takerEnd); err != nil {
		return nil, err
	}
	if err := verifyInputs(tx, allInputs); err != nil {
		a.dump("deposit tx", tx)
		return nil, err
	}
	return tx, nil
}

// MergeDepositSignatures completes the maker's own copy of the deposit tx
// with the taker's signatures. It fails if the taker's tx differs from the
// maker's copy in anything but the taker's input scripts.
func (a *Assembler) MergeDepositSignatures(
	makersTx, takersTx *wire.MsgTx, makerIsBuyer bool,
	buyerInputs, sellerInputs []RawTransactionInput,
) (*wire.MsgTx, error) {
	if makersTx == nil || takersTx == nil {
		return nil, fmt.Errorf("missing deposit transaction")
	}
	allInputs := append(
		append([]RawTransactionInput{}, buyerInputs...), sellerInputs...,
	)
	if len(makersTx.TxIn) != len(allInputs) || len(takersTx.TxIn) != len(allInputs) {
		return nil, newVerificationError("deposit txs input count mismatch")
	}
	if len(makersTx.TxOut) != len(takersTx.TxOut) {
		return nil, newVerificationError("deposit txs output count mismatch")
	}
	for i, out := range makersTx.TxOut {
		other := takersTx.TxOut[i]
		if out.Value != other.Value || string(out.PkScript) != string(other.PkScript) {
			return nil, newVerificationError("deposit txs output %d mismatch", i)
		}
	}

	takerStart, takerEnd := len(buyerInputs), len(allInputs)
	if !makerIsBuyer {
		takerStart, takerEnd = 0, len(buyerInputs)
	}

	tx := makersTx.Copy()
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint != takersTx.TxIn[i].PreviousOutPoint {
			return nil, newVerificationError("deposit txs outpoint %d mismatch", i)
		}
		if i >= takerStart && i < takerEnd {
			in.SignatureScript = takersTx.TxIn[i].SignatureScript
		}
	}
	if err := verifyInputs(tx, allInputs); err != nil {
		return nil, err
	}
	if tx.TxHash() != takersTx.TxHash() {
		return nil, newVerificationError("taker changed maker's input scripts")
	}
	return tx, nil
}

func (a *Assembler) signInputs(
	tx *wire.MsgTx, inputs []RawTransactionInput, start, end int,
) error {
	for i := start; i < end; i++ {
		pkScript, err := inputs[i].PkScript()
		if err != nil {
			return err
		}
		if err := a.signer.SignInput(tx, i, pkScript, inputs[i].Value); err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		if err := VerifyInput(tx, i, pkScript, inputs[i].Value); err != nil {
			return err
		}
	}
	return nil
}

func verifyInputs(tx *wire.MsgTx, inputs []RawTransactionInput) error {
	for i, in := range inputs {
		pkScript, err := in.PkScript()
		if err != nil {
			return err
		}
		if err := VerifyInput(tx, i, pkScript, in.Value); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) addChange(
	tx *wire.MsgTx, change fn.Option[ChangeOutput],
) error {
	var err error
	change.WhenSome(func(c ChangeOutput) {
		var script []byte
		script, err = a.addressScript(c.Address)
		if err != nil {
			return
		}
		tx.AddTxOut(wire.NewTxOut(int64(c.Value), script))
	})
	return err
}

// forcedChange returns the minimal non-dust change output paid by the maker
// when neither party has a change.
func (a *Assembler) forcedChange(args DepositArgs) (ChangeOutput, error) {
	if args.MakerChangeAddress == "" {
		return ChangeOutput{}, fmt.Errorf("missing maker change address")
	}
	minChange := a.MinNonDustAmount(p2pkhScriptSize)
	total := SumRawInputs(args.MakerInputs) + SumRawInputs(args.TakerInputs)
	excess := total - args.MultisigAmount - args.TxFee
	if excess < minChange {
		return ChangeOutput{}, fmt.Errorf(
			"%w: a change of at least %s is required", ErrInsufficientFunds, minChange,
		)
	}
	return ChangeOutput{args.MakerChangeAddress, minChange}, nil
}

// MinNonDustAmount returns the smallest amount that is not dust for an output
// script of the given size.
func (a *Assembler) MinNonDustAmount(scriptSize int) btcutil.Amount {
	lo, hi := btcutil.Amount(1), btcutil.Amount(btcutil.SatoshiPerBitcoin)
	for lo < hi {
		mid := (lo + hi) / 2
		if txrules.IsDustAmount(mid, scriptSize, a.relayFee) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (a *Assembler) isDust(amount btcutil.Amount) bool {
	return txrules.IsDustAmount(amount, p2pkhScriptSize, a.relayFee)
}

func (a *Assembler) addressScript(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, a.params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %s", address, err)
	}
	return txscript.PayToAddrScript(addr)
}

func (a *Assembler) dump(label string, tx *wire.MsgTx) {
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("%s: %s", label, spew.Sdump(tx))
	}
}
