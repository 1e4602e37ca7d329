// Command relaygate is a lightweight L7 reverse proxy with per-client
// admission control, SSRF-gated routing, a durable audit trail, and an
// authenticated admin surface.
package main

import "github.com/relaygate/relaygate/cmd/relaygate/cmd"

func main() {
	cmd.Execute()
}
