package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/urfave/cli/v2"
)

var emergencyPayout = cli.Command{
	Name:  "emergency-payout",
	Usage: "sign a payout of a 2-of-2 escrow with both traders' keys",
	Description: "Recovers the funds of a trade whose deposit tx is not " +
		"available anymore. The printed tx must be published manually.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "deposit-txid",
			Usage:    "the id of the deposit tx",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "buyer-key",
			Usage:    "the WIF encoded multisig private key of the buyer",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "seller-key",
			Usage:    "the WIF encoded multisig private key of the seller",
			Required: true,
		},
		&cli.Int64Flag{
			Name:  "buyer-amount",
			Usage: "the amount in sats paid to the buyer",
		},
		&cli.Int64Flag{
			Name:  "seller-amount",
			Usage: "the amount in sats paid to the seller",
		},
		&cli.StringFlag{
			Name:  "buyer-address",
			Usage: "the payout address of the buyer",
		},
		&cli.StringFlag{
			Name:  "seller-address",
			Usage: "the payout address of the seller",
		},
		&cli.Int64Flag{
			Name:     "tx-fee",
			Usage:    "the mining fee in sats",
			Required: true,
		},
	},
	Action: emergencyPayoutAction,
}

func emergencyPayoutAction(ctx *cli.Context) error {
	net, err := getNetwork(ctx)
	if err != nil {
		return err
	}
	buyerKey, err := decodeKey(ctx.String("buyer-key"))
	if err != nil {
		return fmt.Errorf("invalid buyer key: %s", err)
	}
	sellerKey, err := decodeKey(ctx.String("seller-key"))
	if err != nil {
		return fmt.Errorf("invalid seller key: %s", err)
	}
	buyerAmount, sellerAmount := ctx.Int64("buyer-amount"), ctx.Int64("seller-amount")
	if buyerAmount <= 0 && sellerAmount <= 0 {
		return &invalidUsageError{ctx, ctx.Command.Name}
	}
	if (buyerAmount > 0 && ctx.String("buyer-address") == "") ||
		(sellerAmount > 0 && ctx.String("seller-address") == "") {
		return fmt.Errorf("every positive amount needs its payout address")
	}

	assembler, err := escrow.NewAssembler(net, nil, nil)
	if err != nil {
		return err
	}
	tx, err := assembler.EmergencyPayout(
		ctx.String("deposit-txid"),
		escrow.PayoutArgs{
			BuyerAmount:   btcutil.Amount(buyerAmount),
			SellerAmount:  btcutil.Amount(sellerAmount),
			BuyerAddress:  ctx.String("buyer-address"),
			SellerAddress: ctx.String("seller-address"),
		},
		btcutil.Amount(ctx.Int64("tx-fee")), buyerKey, sellerKey,
	)
	if err != nil {
		return err
	}
	buf, err := escrow.SerializeTx(tx)
	if err != nil {
		return err
	}

	printJSON(map[string]string{
		"txid": tx.TxHash().String(),
		"hex":  hex.EncodeToString(buf),
	})
	return nil
}

func decodeKey(str string) (*btcec.PrivateKey, error) {
	wif, err := btcutil.DecodeWIF(str)
	if err != nil {
		return nil, err
	}
	return wif.PrivKey, nil
}
