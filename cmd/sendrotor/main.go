package main

import "github.com/sendrotor/sendrotor/cmd/sendrotor/commands"

func main() {
	commands.Execute()
}
