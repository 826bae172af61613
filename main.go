package main

import "affiliate-commission-system/cmd"

func main() {
	cmd.Execute()
}
