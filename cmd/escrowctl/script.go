package main

import (
	"encoding/hex"

	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/urfave/cli/v2"
)

var script = cli.Command{
	Name:  "script",
	Usage: "print the redeem script and address of an escrow",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "buyer-pubkey",
			Usage:    "the hex encoded multisig pubkey of the buyer",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "seller-pubkey",
			Usage:    "the hex encoded multisig pubkey of the seller",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "arbitrator-pubkey",
			Usage: "the hex encoded arbitrator pubkey, omit for a 2-of-2 escrow",
		},
	},
	Action: scriptAction,
}

func scriptAction(ctx *cli.Context) error {
	net, err := getNetwork(ctx)
	if err != nil {
		return err
	}
	var keys escrow.Keys
	if keys.Buyer, err = decodeHexFlag(ctx, "buyer-pubkey"); err != nil {
		return err
	}
	if keys.Seller, err = decodeHexFlag(ctx, "seller-pubkey"); err != nil {
		return err
	}
	if keys.Arbitrator, err = decodeHexFlag(ctx, "arbitrator-pubkey"); err != nil {
		return err
	}

	redeemScript, err := keys.RedeemScript()
	if err != nil {
		return err
	}
	addr, err := escrow.P2SHAddress(redeemScript, net)
	if err != nil {
		return err
	}

	printJSON(map[string]interface{}{
		"redeemScript": hex.EncodeToString(redeemScript),
		"address":      addr.EncodeAddress(),
		"arbitrated":   keys.HasArbitrator(),
	})
	return nil
}
