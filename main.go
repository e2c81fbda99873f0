package main

import "github.com/AI-Wallfacer/feishu-family-bot/cmd"

func main() {
	cmd.Execute()
}
