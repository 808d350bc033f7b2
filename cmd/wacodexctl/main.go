package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/wacodex/internal/httpapi"
)

func main() {
	addrFlag := flag.String("addr", "http://127.0.0.1:3001", "daemon control API address")
	secretFlag := flag.String("secret", os.Getenv("SIDECAR_SHARED_SECRET"), "shared secret for authenticated endpoints")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		base:   strings.TrimRight(*addrFlag, "/"),
		secret: *secretFlag,
		http:   &http.Client{Timeout: 10 * time.Second},
	}

	switch args[0] {
	case "health":
		cmdHealth(c)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: wacodexctl send <to> <text...>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "session":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: wacodexctl session <get|set|delete> <chatID> [threadID]")
			os.Exit(1)
		}
		cmdSession(c, args[1], args[2], args[3:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wacodexctl [--addr <url>] [--secret <s>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  health                        Show daemon health")
	fmt.Fprintln(os.Stderr, "  send <to> <text...>           Send a text message")
	fmt.Fprintln(os.Stderr, "  session get <chatID>          Show a chat's thread binding")
	fmt.Fprintln(os.Stderr, "  session set <chatID> <thread> Bind a chat to a thread")
	fmt.Fprintln(os.Stderr, "  session delete <chatID>       Remove a chat's binding")
}

type client struct {
	base   string
	secret string
	http   *http.Client
}

func (c *client) do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(httpapi.SecretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.base, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return resp.StatusCode, data
}

func fail(status int, body []byte) {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		fmt.Fprintf(os.Stderr, "error (%d): %s\n", status, e.Error)
	} else {
		fmt.Fprintf(os.Stderr, "error: unexpected status %d\n", status)
	}
	os.Exit(1)
}

func cmdHealth(c *client) {
	status, body := c.do(http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		fail(status, body)
	}
	var health struct {
		Status    string `json:"status"`
		MockMode  bool   `json:"mockMode"`
		Connected bool   `json:"connected"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Status:    %s\n", health.Status)
	fmt.Printf("Connected: %v\n", health.Connected)
	fmt.Printf("Mock mode: %v\n", health.MockMode)
}

func cmdSend(c *client, to, text string) {
	status, body := c.do(http.MethodPost, "/send", map[string]string{
		"to":   to,
		"text": text,
	})
	if status != http.StatusOK {
		fail(status, body)
	}
	fmt.Println("sent")
}

func cmdSession(c *client, subcmd, chatID string, rest []string) {
	path := "/sessions/" + chatID
	switch subcmd {
	case "get":
		status, body := c.do(http.MethodGet, path, nil)
		if status != http.StatusOK {
			fail(status, body)
		}
		var session struct {
			ChatID   string `json:"chat_id"`
			ThreadID string `json:"thread_id"`
		}
		if err := json.Unmarshal(body, &session); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Chat:   %s\n", session.ChatID)
		fmt.Printf("Thread: %s\n", session.ThreadID)
	case "set":
		if len(rest) < 1 {
			fmt.Fprintln(os.Stderr, "usage: wacodexctl session set <chatID> <threadID>")
			os.Exit(1)
		}
		status, body := c.do(http.MethodPut, path, map[string]string{"thread_id": rest[0]})
		if status != http.StatusNoContent {
			fail(status, body)
		}
		fmt.Println("session updated")
	case "delete":
		status, body := c.do(http.MethodDelete, path, nil)
		if status != http.StatusNoContent {
			fail(status, body)
		}
		fmt.Println("session deleted")
	default:
		fmt.Fprintf(os.Stderr, "unknown session subcommand: %s\n", subcmd)
		os.Exit(1)
	}
}
