// Command pairctl is a small CLI for issuing a pairing code against a
// running transferd daemon, for scripting and testing.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var httpAddr string

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	case "peers":
		peersCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pairctl - meshdrop pairing code tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pairctl generate [flags]  - issue a new pairing code")
	fmt.Println("  pairctl peers [flags]     - list known peers")
	fmt.Println()
	fmt.Println("Run 'pairctl <command> -h' for command-specific help")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	fs.StringVar(&httpAddr, "daemon-addr", "http://127.0.0.1:9528", "transferd control API address")
	fs.Parse(args)

	var resp struct {
		Code        string
		ExpiresAtMS int64
	}
	if err := postJSON(httpAddr+"/api/v1/pairing/generate", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate pairing code: %v\n", err)
		os.Exit(1)
	}

	ttl := time.Until(time.UnixMilli(resp.ExpiresAtMS)).Round(time.Second)
	fmt.Println("Pairing code:")
	fmt.Printf("  %s\n", resp.Code)
	fmt.Println()
	fmt.Printf("Expires in %s\n", ttl)
}

func peersCmd(args []string) {
	fs := flag.NewFlagSet("peers", flag.ExitOnError)
	fs.StringVar(&httpAddr, "daemon-addr", "http://127.0.0.1:9528", "transferd control API address")
	fs.Parse(args)

	var peers []struct {
		DeviceID    string
		DisplayName string
		Online      bool
		Trust       string
	}
	if err := getJSON(httpAddr+"/api/v1/peers", &peers); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list peers: %v\n", err)
		os.Exit(1)
	}

	if len(peers) == 0 {
		fmt.Println("No known peers.")
		return
	}
	for _, p := range peers {
		status := "offline"
		if p.Online {
			status = "online"
		}
		fmt.Printf("  %-36s %-20s %-8s %s\n", p.DeviceID, p.DisplayName, status, p.Trust)
	}
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(url string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader([]byte("{}"))
	}
	resp, err := http.Post(url, "application/json", reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
