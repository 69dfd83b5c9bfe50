package validation

import "fmt"

// MaxDisputesPerTrade is the max number of disputes referencing the same
// trade, deposit tx or delayed payout tx. A mediation followed by a refund
// makes two.
const MaxDisputesPerTrade = 2

// DisputeRecord is the subset of a dispute checked against replays.
type DisputeRecord struct {
	TradeID           string
	DepositTxID       string
	DelayedPayoutTxID string
	IsRefund          bool
}

// CheckDisputeReplay fails if a dispute was replayed over the given list, ie.
// if more than MaxDisputesPerTrade disputes share the same trade, deposit tx
// or delayed payout tx.
func CheckDisputeReplay(disputes []DisputeRecord) error {
	byTradeID := make(map[string]int)
	byDepositTxID := make(map[string]int)
	byDelayedPayoutTxID := make(map[string]int)

	for _, d := range disputes {
		if d.IsRefund && d.DelayedPayoutTxID == "" {
			return &DisputeReplayError{
				TradeID: d.TradeID,
				Reason:  "refund dispute without delayed payout txid",
			}
		}
		byTradeID[d.TradeID]++
		if d.DepositTxID != "" {
			byDepositTxID[d.DepositTxID]++
		}
		if d.DelayedPayoutTxID != "" {
			byDelayedPayoutTxID[d.DelayedPayoutTxID]++
		}
	}

	for _, d := range disputes {
		if n := byTradeID[d.TradeID]; n > MaxDisputesPerTrade {
			return &DisputeReplayError{d.TradeID, fmt.Sprintf(
				"found %d disputes with same trade id", n,
			)}
		}
		if n := byDepositTxID[d.DepositTxID]; n > MaxDisputesPerTrade {
			return &DisputeReplayError{d.TradeID, fmt.Sprintf(
				"found %d disputes with same deposit txid %s", n, d.DepositTxID,
			)}
		}
		if n := byDelayedPayoutTxID[d.DelayedPayoutTxID]; n > MaxDisputesPerTrade {
			return &DisputeReplayError{d.TradeID, fmt.Sprintf(
				"found %d disputes with same delayed payout txid %s",
				n, d.DelayedPayoutTxID,
			)}
		}
	}
	return nil
}
