package main

import "github.com/cortexhub/cortexhub/internal/cli"

func main() {
	cli.Execute()
}
