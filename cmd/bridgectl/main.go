package main

import "github.com/etrid/flarebridge/cmd/bridgectl/cmd"

func main() {
	cmd.Execute()
}
