package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeledger/internal/api"
)

func GetKeyCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Aliases: []string{"k"},
		Usage:   "Local signing key related commands",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List the accounts whose mnemonics are loaded",
				Action:  KeysList,
			},
			{
				Name:   "sign",
				Usage:  "Sign a ledger API request - prints the headers to send along with it",
				Action: KeysSign,
				Flags: []cli.Flag{
					callerFlag(),
					&cli.StringFlag{
						Name:  "method",
						Usage: "HTTP method of the request",
						Value: http.MethodPost,
					},
					&cli.StringFlag{
						Name:     "path",
						Usage:    "Request path, ie: /v1/pools/1/stake",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "body",
						Usage: "File holding the exact request body.  Empty body if not set",
					},
					&cli.UintFlag{
						Name:  "nonce",
						Usage: "Request nonce in unix milliseconds.  Defaults to now - each nonce is accepted once",
					},
				},
			},
		},
	}
}

func KeysList(ctx context.Context, command *cli.Command) error {
	accounts := App.signer.Accounts()
	if len(accounts) == 0 {
		fmt.Println("no keys loaded - set ALGO_MNEMONIC_xx env vars")
		return nil
	}
	for _, account := range accounts {
		fmt.Println(account)
	}
	return nil
}

func KeysSign(ctx context.Context, command *cli.Command) error {
	account, err := caller(command)
	if err != nil {
		return err
	}
	var body []byte
	if file := command.String("body"); file != "" {
		if body, err = os.ReadFile(file); err != nil {
			return err
		}
	}
	nonce := command.Uint("nonce")
	if nonce == 0 {
		nonce = uint64(time.Now().UnixMilli())
	}
	payload := api.SigningPayload(strings.ToUpper(command.String("method")), command.String("path"), nonce, body)
	sig, err := App.signer.SignBytes(account.String(), payload)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", api.HeaderCaller, account)
	fmt.Printf("%s: %d\n", api.HeaderNonce, nonce)
	fmt.Printf("%s: %s\n", api.HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	return nil
}
