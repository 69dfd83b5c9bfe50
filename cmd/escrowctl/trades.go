package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"
)

var trades = cli.Command{
	Name:  "trades",
	Usage: "list the trades of a running daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "rpcserver",
			Usage: "the address of the daemon http api",
			Value: "localhost:9955",
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "one of pending, closed or failed",
			Value: "pending",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "show a single trade",
		},
	},
	Action: tradesAction,
}

func tradesAction(ctx *cli.Context) error {
	endpoint := url.URL{Scheme: "http", Host: ctx.String("rpcserver"), Path: "/trades"}
	if id := ctx.String("id"); id != "" {
		endpoint.Path += "/" + url.PathEscape(id)
	} else {
		endpoint.RawQuery = url.Values{"collection": {ctx.String("collection")}}.Encode()
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(endpoint.String())
	if err != nil {
		return fmt.Errorf("unable to connect to daemon: %v", err)
	}
	defer resp.Body.Close()

	var body interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("unable to decode response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		if m, ok := body.(map[string]interface{}); ok {
			return fmt.Errorf("%s", m["error"])
		}
		return fmt.Errorf("daemon replied with status %d", resp.StatusCode)
	}

	printJSON(body)
	return nil
}
