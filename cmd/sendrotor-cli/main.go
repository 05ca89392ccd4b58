package main

import "github.com/sendrotor/sendrotor/cmd/sendrotor-cli/commands"

func main() {
	commands.Execute()
}
