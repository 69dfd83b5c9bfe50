package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tdex-network/tdex-escrow/pkg/receivers"
	"github.com/urfave/cli/v2"
)

var receiversCmd = cli.Command{
	Name:  "receivers",
	Usage: "compute the receivers of a delayed payout tx from a claims file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "claims",
			Usage:    "path of the JSON file with the compensation claims",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "default-address",
			Usage:    "the address receiving what's not distributed to claims",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "amount",
			Usage:    "the amount in sats spent by the delayed payout tx",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "tx-fee",
			Usage:    "the trade tx fee in sats",
			Required: true,
		},
		&cli.IntFlag{
			Name:     "height",
			Usage:    "the height used to select claims",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "genesis-height",
			Usage: "the height of the first claim",
		},
		&cli.IntFlag{
			Name:  "grid",
			Usage: "round the selection height down to a multiple of grid",
		},
		&cli.Int64Flag{
			Name:  "min-claim",
			Usage: "claims smaller than this amount are ignored",
		},
	},
	Action: receiversAction,
}

func receiversAction(ctx *cli.Context) error {
	net, err := getNetwork(ctx)
	if err != nil {
		return err
	}
	buf, err := os.ReadFile(ctx.String("claims"))
	if err != nil {
		return err
	}
	var claims []receivers.Claim
	if err := json.Unmarshal(buf, &claims); err != nil {
		return fmt.Errorf("invalid claims file: %s", err)
	}

	dist, err := receivers.NewDistributor(
		net, ctx.String("default-address"), ctx.Int64("min-claim"),
	)
	if err != nil {
		return err
	}
	height := receivers.SelectionHeight(
		int32(ctx.Int("height")), int32(ctx.Int("genesis-height")),
		int32(ctx.Int("grid")),
	)

	printJSON(map[string]interface{}{
		"selectionHeight": height,
		"receivers": dist.Receivers(
			claims, height, ctx.Int64("amount"), ctx.Int64("tx-fee"),
		),
	})
	return nil
}
