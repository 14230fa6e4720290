package main

import "github.com/sunbk201/flowguard/cmd"

func main() {
	cmd.Execute()
}
