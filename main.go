package main

import "github.com/variantdev/wbstage/cmd"

func main() {
	cmd.Execute()
}
