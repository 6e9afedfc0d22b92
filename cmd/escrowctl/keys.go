package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"limitvault/internal/auth"
)

var commandKeygen = &cli.Command{
	Name:      "keygen",
	Usage:     "generate a new caller key",
	ArgsUsage: "<keyfile>",
	Action: func(ctx *cli.Context) error {
		path := ctx.Args().First()
		if path == "" {
			return errors.New("keyfile path is required")
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("keyfile %s already exists", path)
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveECDSA(path, key); err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, auth.Identity(&key.PublicKey).Hex())
		return nil
	},
}

var commandIdentity = &cli.Command{
	Name:  "identity",
	Usage: "print the caller identity of a key",
	Flags: []cli.Flag{keyFlag},
	Action: func(ctx *cli.Context) error {
		key, err := loadKey(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, auth.Identity(&key.PublicKey).Hex())
		return nil
	},
}

func loadKey(ctx *cli.Context) (*ecdsa.PrivateKey, error) {
	path := ctx.String(keyFlag.Name)
	if path == "" {
		return nil, errors.New("--key is required")
	}
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}
	return key, nil
}
