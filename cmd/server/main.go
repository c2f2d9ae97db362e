package main

import (
	"github.com/teamhubhq/chat-core/cmd"
)

func main() {
	cmd.Execute()
}
