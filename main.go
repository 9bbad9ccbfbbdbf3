package main

import "github.com/darmiel/trustbroker/cmd"

func main() {
	cmd.Execute()
}
