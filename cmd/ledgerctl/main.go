// Command ledgerctl is an operator tool for the relief ledger: it scores
// reports offline, issues bearer tokens and tails the audit stream.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-relief-ledger/internal/logging"
)

func main() {
	_ = godotenv.Load()
	logging.Setup(os.Getenv("LOG_LEVEL"), "text")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
