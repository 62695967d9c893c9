// Command authtree serves authentication trees over HTTP or walks one in the terminal.
package main

func main() {
	Execute()
}
