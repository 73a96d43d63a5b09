package main

import "github.com/notifyhub/purchase-notify/internal/cli"

func main() {
	cli.Execute()
}
