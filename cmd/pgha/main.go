package main

import (
	"context"
	"os"

	"github.com/dd0wney/cluso-pgha/pkg/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
