// fairscore evaluates credit-risk models for counterfactual fairness.
//
// Usage:
//
//	fairscore run   [--config=<file>] [--data=<csv>] [--limit=N] [--markdown]
//	fairscore score [--config=<file>] [--data=<csv>] [--id=<applicant>] [--backend=<name>]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
