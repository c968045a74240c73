package main

import "bitespeed/internal/cli"

func main() {
	cli.Execute()
}
