// webhook-sign computes the signature an endpoint should expect for a
// given payload, for debugging webhook consumers.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mailqueue/mailqueue/internal/service"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: webhook-sign <secret> <payload> [unix-timestamp]")
		os.Exit(1)
	}

	secret := os.Args[1]
	payload := os.Args[2]
	timestamp := time.Now().Unix()
	if len(os.Args) > 3 {
		parsed, err := strconv.ParseInt(os.Args[3], 10, 64)
		if err != nil {
			fmt.Printf("invalid timestamp: %v\n", err)
			os.Exit(1)
		}
		timestamp = parsed
	}

	fmt.Println()
	fmt.Printf("X-Webhook-Timestamp: %d\n", timestamp)
	fmt.Printf("X-Webhook-Signature: %s\n", service.SignPayload(secret, timestamp, []byte(payload)))
	fmt.Println()
}
