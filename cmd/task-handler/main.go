package main

import "github.com/LENAX/task-handler/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
