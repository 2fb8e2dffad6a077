// Package main provides the extension host's CLI entry point.
package main

func main() {
	Execute()
}
