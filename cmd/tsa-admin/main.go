package main

import (
	"github.com/nicoladebbia/CredLink-sub020/cmd/cli"
)

// main is the entry point for the tsa-admin command-line tool.
// main 是 tsa-admin 命令行工具的入口点。
func main() {
	cli.Execute()
}
