package main

import "sectograph/cmd/sectograph/cmd"

func main() {
	cmd.Execute()
}
