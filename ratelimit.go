package main

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Per-client token buckets for the HTTP and DNS surfaces. Generous enough
// for interactive use, tight enough to keep one client from monopolizing the
// upstream model quota.
const (
	clientRate  = rate.Limit(1) // sustained requests per second
	clientBurst = 5
	clientIdle  = 10 * time.Minute
)

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	rateMu      sync.Mutex
	rateClients = make(map[string]*rateClient)
	rateSweep   sync.Once
)

// rateLimitAllow reports whether a request from remoteAddr may proceed.
func rateLimitAllow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	rateSweep.Do(func() { go sweepRateClients() })

	rateMu.Lock()
	defer rateMu.Unlock()

	client, ok := rateClients[host]
	if !ok {
		client = &rateClient{limiter: rate.NewLimiter(clientRate, clientBurst)}
		rateClients[host] = client
	}
	client.lastSeen = time.Now()
	return client.limiter.Allow()
}

// sweepRateClients drops buckets for clients idle past clientIdle.
func sweepRateClients() {
	for range time.Tick(time.Minute) {
		rateMu.Lock()
		for host, client := range rateClients {
			if time.Since(client.lastSeen) > clientIdle {
				delete(rateClients, host)
			}
		}
		rateMu.Unlock()
	}
}
