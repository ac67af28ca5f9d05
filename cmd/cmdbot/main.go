package main

import (
	"os"

	"github.com/soyeahso/cmdbot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
