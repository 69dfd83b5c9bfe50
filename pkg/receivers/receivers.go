// Package receivers computes the outputs of a delayed payout tx paying the
// escrowed funds to the holders of compensation claims.
package receivers

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/pkg/mathutil"
)

const (
	// MinTxFeeRate is the min fee rate in sat/vB of a delayed payout tx.
	MinTxFeeRate = 5
	// FeeRateTxSize is the deposit tx size used to derive the fee rate from
	// the trade tx fee.
	FeeRateTxSize = 246
	// TxBaseSize and TxOutputSize model the size of a delayed payout tx.
	TxBaseSize   = 51
	TxOutputSize = 32
	// MinOutputAmount is the floor for a receiver output, raised to twice the
	// cost of the output at high fee rates.
	MinOutputAmount = 1000
	// MinRemainderToDefault is the leftover above which an extra output to
	// the default address is added. Smaller leftovers go to miners.
	MinRemainderToDefault = 50_000
	// SelectionGrid is the height grid used to snapshot the claims.
	SelectionGrid = 10
)

// Claim is a compensation claim eligible for a share of delayed payouts.
type Claim struct {
	Amount      int64  `json:"amount"`
	Address     string `json:"address"`
	BlockHeight int32  `json:"blockHeight"`
	TxID        string `json:"txid"`
}

// Receiver is an output of a delayed payout tx.
type Receiver struct {
	Amount  int64  `json:"amount"`
	Address string `json:"address"`
}

// Distributor turns a list of claims into the receivers of a delayed payout.
type Distributor struct {
	params         *chaincfg.Params
	defaultAddress string
	minClaimAmount int64
	relayFee       btcutil.Amount
}

// NewDistributor returns a new Distributor. Claims smaller than
// minClaimAmount are never selected.
func NewDistributor(
	params *chaincfg.Params, defaultAddress string, minClaimAmount int64,
) (*Distributor, error) {
	if params == nil {
		return nil, fmt.Errorf("missing network params")
	}
	if _, err := btcutil.DecodeAddress(defaultAddress, params); err != nil {
		return nil, fmt.Errorf("invalid default address: %s", err)
	}
	return &Distributor{
		params:         params,
		defaultAddress: defaultAddress,
		minClaimAmount: minClaimAmount,
		relayFee:       txrules.DefaultRelayFeePerKb,
	}, nil
}

// DefaultAddress returns the fallback receiver address.
func (d *Distributor) DefaultAddress() string {
	return d.defaultAddress
}

// FeeRate returns the fee rate in sat/vB both traders use for the delayed
// payout tx, derived from the trade tx fee.
func FeeRate(tradeTxFee int64) int64 {
	return mathutil.Max(MinTxFeeRate, mathutil.RoundDiv(tradeTxFee, FeeRateTxSize))
}

// SpendableAmount returns what's left of inputAmount once the mining fee of
// a delayed payout tx with numOutputs outputs is paid.
func SpendableAmount(numOutputs int, inputAmount, feeRate int64) int64 {
	txSize := int64(TxBaseSize + numOutputs*TxOutputSize)
	return inputAmount - feeRate*txSize
}

// Receivers returns the outputs of the delayed payout tx spending
// inputAmount. Only claims not younger than selectionHeight are selected.
// If none qualifies, the whole amount goes to the default address.
// The result is independent of the order of claims.
func (d *Distributor) Receivers(
	claims []Claim, selectionHeight int32, inputAmount, tradeTxFee int64,
) []Receiver {
	fallback := []Receiver{{inputAmount, d.defaultAddress}}

	eligible := d.eligibleClaims(claims, selectionHeight)
	if len(eligible) <= 0 {
		return fallback
	}

	feeRate := FeeRate(tradeTxFee)
	minOutput := mathutil.Max(MinOutputAmount, feeRate*TxOutputSize*2)

	// First pass: drop claims whose share is below the min output.
	spendable := SpendableAmount(len(eligible), inputAmount, feeRate)
	if spendable <= 0 {
		log.Warnf(
			"input amount %d can't cover fees for %d receivers",
			inputAmount, len(eligible),
		)
		return fallback
	}
	totalWeight := totalAmount(eligible)
	selected := make([]Claim, 0, len(eligible))
	for _, c := range eligible {
		if mathutil.Share(spendable, c.Amount, totalWeight) >= minOutput {
			selected = append(selected, c)
		}
	}
	if len(selected) <= 0 {
		return fallback
	}

	// Second and last pass over the trimmed set.
	spendable = SpendableAmount(len(selected), inputAmount, feeRate)
	totalWeight = totalAmount(selected)
	receivers := make([]Receiver, 0, len(selected)+1)
	var totalOutput int64
	for _, c := range selected {
		amount := mathutil.Share(spendable, c.Amount, totalWeight)
		if d.isDust(amount, c.Address) {
			continue
		}
		receivers = append(receivers, Receiver{amount, c.Address})
		totalOutput += amount
	}
	if len(receivers) <= 0 {
		return fallback
	}

	if remainder := spendable - totalOutput; remainder > MinRemainderToDefault {
		receivers = append(receivers, Receiver{remainder, d.defaultAddress})
	}
	return receivers
}

func (d *Distributor) eligibleClaims(
	claims []Claim, selectionHeight int32,
) []Claim {
	eligible := make([]Claim, 0, len(claims))
	for _, c := range claims {
		if c.BlockHeight > selectionHeight || c.Amount <= 0 ||
			c.Amount < d.minClaimAmount {
			continue
		}
		if _, err := btcutil.DecodeAddress(c.Address, d.params); err != nil {
			log.Debugf("skipping claim %s with invalid address %s", c.TxID, c.Address)
			continue
		}
		eligible = append(eligible, c)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].TxID == eligible[j].TxID {
			return eligible[i].Address < eligible[j].Address
		}
		return eligible[i].TxID < eligible[j].TxID
	})
	return eligible
}

func (d *Distributor) isDust(amount int64, address string) bool {
	addr, err := btcutil.DecodeAddress(address, d.params)
	if err != nil {
		return true
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return true
	}
	return txrules.IsDustAmount(btcutil.Amount(amount), len(script), d.relayFee)
}

func totalAmount(claims []Claim) int64 {
	var total int64
	for _, c := range claims {
		total += c.Amount
	}
	return total
}

// SelectionHeight returns the snapshot height both traders use to select
// claims: the last multiple of grid within the range of the last grid to
// 2*grid blocks, never lower than genesisHeight.
func SelectionHeight(chainHeight, genesisHeight, grid int32) int32 {
	if grid <= 0 {
		return chainHeight
	}
	h := chainHeight - grid
	h -= h % grid
	if h < genesisHeight {
		return genesisHeight
	}
	return h
}
