// main.go - entry point for the xbld static linker and binary patcher.
package main

import "os"

func main() {
	os.Exit(Run(os.Args[1:], os.Stderr))
}
