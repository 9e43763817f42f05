package main

import (
	"context"
	"os"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

var App *LedgerApp

func main() {
	App = initApp()
	err := App.cliCmd.Run(context.Background(), os.Args)
	if err != nil {
		misc.Errorf(App.logger, "Error: %v", err)
		os.Exit(1)
	}
}
