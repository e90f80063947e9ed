package main

import "github.com/kozaktomas/race-photos/cmd"

func main() {
	cmd.Execute()
}
