package main

import "streamthumb/cmd/streamthumb/commands"

func main() {
	commands.Execute()
}
