// Command escrowctl manages caller keys and sends signed requests to a
// limitvault server.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var app = &cli.App{
	Name:  "escrowctl",
	Usage: "limitvault escrow client",
	Commands: []*cli.Command{
		commandKeygen,
		commandIdentity,
		commandDerive,
		commandInit,
		commandDelegate,
		commandDeposit,
		commandOrder,
		commandCancel,
		commandExecute,
		commandShow,
		commandCall,
	},
}

var (
	keyFlag = &cli.StringFlag{
		Name:    "key",
		Usage:   "file holding the hex secp256k1 private key",
		EnvVars: []string{"ESCROWCTL_KEY"},
	}
	urlFlag = &cli.StringFlag{
		Name:    "url",
		Usage:   "base URL of the limitvault API",
		Value:   "http://localhost:3000",
		EnvVars: []string{"ESCROWCTL_URL"},
	}
	domainFlag = &cli.StringFlag{
		Name:  "domain",
		Usage: "execution domain to address (`primary` or `secondary`)",
		Value: "primary",
	}
	idempotencyFlag = &cli.StringFlag{
		Name:  "idempotency-key",
		Usage: "replay-safe key sent as X-Idempotency-Key",
	}
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
