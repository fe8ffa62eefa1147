package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joshu-sajeev/pollq/internal/cli"
)

func main() {
	if err := cli.BuildCLI(cli.DefaultEnv()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
