package main

import "github.com/voyago/tripchat/cmd/tripchat/cmd"

func main() {
	cmd.Execute()
}
