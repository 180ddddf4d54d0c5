package main

import (
	"github.com/simecon/ledgerd/internal/cli"
)

func main() {
	cli.Execute()
}
