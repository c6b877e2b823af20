package main

import "github.com/arena-labs/arena-gateway/cmd/arena-gateway/cmd"

func main() {
	cmd.Execute()
}
