package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/miekg/dns"

	"charla/chat"
)

// DNS answers are hard-capped so they fit comfortably in a TXT response.
const dnsAnswerLimit = 500

// StartDNSServer answers one-shot prompts over DNS TXT queries: the query
// name is the prompt with dashes for spaces. Stateless; no session history
// is read or written.
func StartDNSServer(port int, svc *chat.Service) error {
	log.Printf("[DNS] Starting DNS server on port %d", port)
	dns.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		handleDNS(w, r, svc)
	})

	server := &dns.Server{
		Addr: fmt.Sprintf(":%d", port),
		Net:  "udp",
	}

	log.Printf("[DNS] DNS server listening on :%d", port)
	return server.ListenAndServe()
}

func handleDNS(w dns.ResponseWriter, r *dns.Msg, svc *chat.Service) {
	if !rateLimitAllow(w.RemoteAddr().String()) {
		return
	}
	if len(r.Question) == 0 {
		return
	}

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeTXT {
			continue
		}

		name := strings.TrimSuffix(q.Name, ".")
		prompt := strings.ReplaceAll(name, "-", " ")
		if debugMode {
			log.Printf("[DNS] Query from %s: %q", w.RemoteAddr(), prompt)
		}

		// DNS clients give up fast, so the prompt carries its own length
		// constraint and the generation gets a hard deadline.
		dnsPrompt := "Answer in 500 characters or less, no markdown formatting: " + prompt

		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		answer, err := svc.Ask(ctx, dnsPrompt)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				answer = "Request timed out"
			} else {
				answer = "Error: " + err.Error()
			}
		}
		if len(answer) > dnsAnswerLimit {
			answer = answer[:dnsAnswerLimit-3] + "..."
		}

		// Split the answer into 255-byte chunks for DNS TXT records.
		var txtStrings []string
		for i := 0; i < len(answer); i += 255 {
			end := i + 255
			if end > len(answer) {
				end = len(answer)
			}
			txtStrings = append(txtStrings, answer[i:end])
		}

		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    0,
			},
			Txt: txtStrings,
		})
	}

	if err := w.WriteMsg(m); err != nil {
		log.Printf("[DNS] Failed to write response: %v", err)
	}
}
