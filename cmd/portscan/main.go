// Command portscan scans targets with nmap and reports reachable services.
package main

import "github.com/anstrom/portscan/cmd/cli"

func main() {
	cli.Execute()
}
