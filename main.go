package main

import "github.com/Davincible/copilot-gateway/cmd"

func main() {
	cmd.Execute()
}
