package main

import "github.com/stackdesk/stackdesk/cmd"

func main() {
	cmd.Execute()
}
