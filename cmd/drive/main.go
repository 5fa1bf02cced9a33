// drive: steering model server for the driving simulator.
// Listens for Socket.IO telemetry and answers every frame with a
// steering angle and throttle.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
