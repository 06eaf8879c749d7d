/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/acronis/go-callthrottle/internal/cli"
)

// version is set via ldflags: go build -ldflags="-X main.version=1.0.0".
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
