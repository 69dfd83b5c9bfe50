package main

import (
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
	"github.com/urfave/cli/v2"
)

var validateDelayedPayout = cli.Command{
	Name:  "validate-delayed-payout",
	Usage: "check a delayed payout tx against the terms of its trade",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "tx",
			Usage:    "the hex encoded delayed payout tx",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "lock-time",
			Usage:    "the block height the tx must be locked to",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "trade-amount",
			Usage:    "the trade amount in sats",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "buyer-deposit",
			Usage:    "the buyer security deposit in sats",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "seller-deposit",
			Usage:    "the seller security deposit in sats",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "donation-address",
			Usage:    "the current donation address",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "default-donation-address",
			Usage: "the default donation address, if different",
		},
	},
	Action: validateDelayedPayoutAction,
}

func validateDelayedPayoutAction(ctx *cli.Context) error {
	net, err := getNetwork(ctx)
	if err != nil {
		return err
	}
	buf, err := decodeHexFlag(ctx, "tx")
	if err != nil {
		return err
	}
	tx, err := escrow.DeserializeTx(buf)
	if err != nil {
		return err
	}
	donation := validation.DonationAddresses{
		Current: ctx.String("donation-address"),
		Default: ctx.String("default-donation-address"),
	}
	if donation.Default == "" {
		donation.Default = donation.Current
	}

	validator, err := validation.NewValidator(net, false)
	if err != nil {
		return err
	}
	if err := validator.ValidateDelayedPayout(validation.DelayedPayoutArgs{
		Tx:            tx,
		LockTime:      uint32(ctx.Uint64("lock-time")),
		TradeAmount:   ctx.Int64("trade-amount"),
		BuyerDeposit:  ctx.Int64("buyer-deposit"),
		SellerDeposit: ctx.Int64("seller-deposit"),
		Donation:      donation,
	}); err != nil {
		return err
	}

	printJSON(map[string]interface{}{
		"txid":  tx.TxHash().String(),
		"valid": true,
	})
	return nil
}
