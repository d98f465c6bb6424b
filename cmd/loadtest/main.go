// Command loadtest drives a running server with many concurrent clients
// exchanging messages and reports throughput.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"boltchat/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:26310", "server address")
	codec := flag.String("codec", "json", "wire codec")
	clients := flag.Int("clients", 50, "number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	flag.Parse()

	var sent, failed, pushes atomic.Int64
	names := make([]string, *clients)
	for i := range names {
		names[i] = fmt.Sprintf("load-%d-%d", time.Now().Unix()%100000, i)
	}

	deadline := time.Now().Add(*duration)
	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := client.Dial(*addr, *codec)
			if err != nil {
				log.Printf("client %d: %v", i, err)
				return
			}
			defer c.Close()
			if _, err := c.Register(names[i], "loadtest", "loadtest"); err != nil {
				log.Printf("client %d register: %v", i, err)
				return
			}

			go func() {
				for range c.Notifications() {
					pushes.Add(1)
				}
			}()

			rng := rand.New(rand.NewSource(int64(i)))
			for time.Now().Before(deadline) {
				peer := names[rng.Intn(len(names))]
				if peer == names[i] {
					continue
				}
				if _, err := c.Send(peer, "load test message"); err != nil {
					failed.Add(1)
					continue
				}
				sent.Add(1)
			}
		}(i)
	}
	wg.Wait()

	secs := (*duration).Seconds()
	fmt.Printf("clients:  %d\n", *clients)
	fmt.Printf("sent:     %d (%.0f/s)\n", sent.Load(), float64(sent.Load())/secs)
	fmt.Printf("failed:   %d\n", failed.Load())
	fmt.Printf("pushes:   %d\n", pushes.Load())
}
