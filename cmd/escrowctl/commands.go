package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/urfave/cli/v2"

	"limitvault/internal/escrow"
)

var commandDerive = &cli.Command{
	Name:      "derive",
	Usage:     "derive an escrow address offline",
	ArgsUsage: "<owner> <orderId>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "program", Usage: "program id", Required: true, EnvVars: []string{"PROGRAM_ID"}},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return errors.New("expected <owner> <orderId>")
		}
		program, err := escrow.NewProgram(ctx.String("program"))
		if err != nil {
			return err
		}
		owner, err := escrow.ParseHash(ctx.Args().Get(0))
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		orderID, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
		if err != nil {
			return fmt.Errorf("orderId: %w", err)
		}
		fmt.Fprintln(ctx.App.Writer, program.DeriveAddress(owner, orderID).Hex())
		return nil
	},
}

var signedFlags = []cli.Flag{keyFlag, urlFlag, domainFlag, idempotencyFlag}

var commandInit = &cli.Command{
	Name:      "init",
	Usage:     "initialize an escrow owned by the key",
	ArgsUsage: "<orderId>",
	Flags:     signedFlags,
	Action: func(ctx *cli.Context) error {
		return sendSigned(ctx, http.MethodPost, domainPath(ctx, "/escrows"), map[string]string{
			"orderId": ctx.Args().First(),
		})
	},
}

var commandDelegate = &cli.Command{
	Name:      "delegate",
	Usage:     "delegate an escrow to the secondary domain",
	ArgsUsage: "<owner> <orderId>",
	Flags:     signedFlags,
	Action: func(ctx *cli.Context) error {
		return sendSigned(ctx, http.MethodPost, domainPath(ctx, "/delegations"), map[string]string{
			"owner":   ctx.Args().Get(0),
			"orderId": ctx.Args().Get(1),
		})
	},
}

var commandDeposit = &cli.Command{
	Name:      "deposit",
	Usage:     "deposit native currency, or whole units of --mint",
	ArgsUsage: "<address> <amount>",
	Flags:     append([]cli.Flag{&cli.StringFlag{Name: "mint", Usage: "asset mint; omit for native"}}, signedFlags...),
	Action: func(ctx *cli.Context) error {
		addr, amount := ctx.Args().Get(0), ctx.Args().Get(1)
		if mint := ctx.String("mint"); mint != "" {
			return sendSigned(ctx, http.MethodPost, domainPath(ctx, "/escrows/"+addr+"/deposits/asset"), map[string]string{
				"mint":   mint,
				"amount": amount,
			})
		}
		return sendSigned(ctx, http.MethodPost, domainPath(ctx, "/escrows/"+addr+"/deposits/native"), map[string]string{
			"amount": amount,
		})
	},
}

var commandOrder = &cli.Command{
	Name:      "order",
	Usage:     "create or replace the escrow's limit order",
	ArgsUsage: "<address> <buy|sell> <asset> <limitPrice>",
	Flags:     signedFlags,
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 4 {
			return errors.New("expected <address> <buy|sell> <asset> <limitPrice>")
		}
		args := ctx.Args()
		return sendSigned(ctx, http.MethodPut, domainPath(ctx, "/escrows/"+args.Get(0)+"/order"), map[string]string{
			"orderType":  args.Get(1),
			"asset":      args.Get(2),
			"limitPrice": args.Get(3),
		})
	},
}

var commandCancel = &cli.Command{
	Name:      "cancel",
	Usage:     "cancel the escrow's limit order",
	ArgsUsage: "<address>",
	Flags:     signedFlags,
	Action: func(ctx *cli.Context) error {
		return sendSigned(ctx, http.MethodDelete, domainPath(ctx, "/escrows/"+ctx.Args().First()+"/order"), nil)
	},
}

var commandExecute = &cli.Command{
	Name:      "execute",
	Usage:     "execute the escrow's active order as crank",
	ArgsUsage: "<address>",
	Flags:     signedFlags,
	Action: func(ctx *cli.Context) error {
		return sendSigned(ctx, http.MethodPost, domainPath(ctx, "/escrows/"+ctx.Args().First()+"/order/execute"), nil)
	},
}

var commandShow = &cli.Command{
	Name:      "show",
	Usage:     "print an escrow, or its events with --events",
	ArgsUsage: "<address>",
	Flags: []cli.Flag{
		urlFlag,
		&cli.BoolFlag{Name: "events", Usage: "list the escrow's journal instead"},
	},
	Action: func(ctx *cli.Context) error {
		path := "/api/v1/escrows/" + ctx.Args().First()
		if ctx.Bool("events") {
			path += "/events"
		}
		return send(ctx, http.MethodGet, path, nil, nil)
	},
}

var commandCall = &cli.Command{
	Name:      "call",
	Usage:     "send a signed request with a raw JSON body",
	ArgsUsage: "<method> <path> [json]",
	Flags:     []cli.Flag{keyFlag, urlFlag, idempotencyFlag},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return errors.New("expected <method> <path> [json]")
		}
		var body []byte
		if raw := ctx.Args().Get(2); raw != "" {
			body = []byte(raw)
		}
		key, err := loadKey(ctx)
		if err != nil {
			return err
		}
		return send(ctx, ctx.Args().Get(0), ctx.Args().Get(1), body, key)
	},
}

func domainPath(ctx *cli.Context, suffix string) string {
	return "/api/v1/" + ctx.String(domainFlag.Name) + suffix
}
