package main

import (
	"stock-dropdown-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
