package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli/v2"
)

var networkFlag = &cli.StringFlag{
	Name:  "network",
	Usage: "the bitcoin network, one of mainnet, testnet or regtest",
	Value: "mainnet",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "escrowctl"
	app.Usage = "Command line interface for escrow daemon operators"
	app.Flags = []cli.Flag{networkFlag}
	app.Commands = append(
		app.Commands,
		&script,
		&receiversCmd,
		&validateDelayedPayout,
		&emergencyPayout,
		&trades,
	)
	return app
}

func getNetwork(ctx *cli.Context) (*chaincfg.Params, error) {
	switch strings.ToLower(ctx.String(networkFlag.Name)) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %s", ctx.String(networkFlag.Name))
	}
}

func decodeHexFlag(ctx *cli.Context, name string) ([]byte, error) {
	str := ctx.String(name)
	if str == "" {
		return nil, nil
	}
	buf, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", name, err)
	}
	return buf, nil
}

func printJSON(resp interface{}) {
	buf, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}
	fmt.Println(string(buf))
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[escrowctl] %v\n", err)
	}
	os.Exit(1)
}
