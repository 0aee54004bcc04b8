// hawkctl provisions consumer credentials and issues Hawk-signed requests
// against a running gateway, replacing ad-hoc key scripts and curl loops.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"hawkgate/gateway/auth"
	"hawkgate/gateway/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "call":
		err = runCall(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage:
  hawkctl keygen [-out FILE] CONSUMER...
      generate shared secrets for the listed consumer ids and write a
      credentials file in TOML
  hawkctl call -credentials FILE -id CONSUMER -url URL [-method POST] [-body DATA] [-content-type TYPE] [-timeout 5s]
      sign a request with the consumer's credentials and print the response
`)
}

type keygenFile struct {
	Consumers []auth.Credential `toml:"consumers"`
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "destination credentials file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := fs.Args()
	if len(ids) == 0 {
		return fmt.Errorf("keygen: at least one consumer id is required")
	}
	seen := make(map[string]struct{}, len(ids))
	file := keygenFile{Consumers: make([]auth.Credential, 0, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("keygen: empty consumer id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("keygen: duplicate consumer id %s", id)
		}
		seen[id] = struct{}{}
		secret, err := newSecret()
		if err != nil {
			return err
		}
		file.Consumers = append(file.Consumers, auth.Credential{ID: id, Secret: secret})
	}

	if *out == "" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			// Secrets on an interactive terminal end up in scrollback and
			// shell history; insist on a file in that case.
			return fmt.Errorf("keygen: refusing to print secrets to a terminal; pass -out or redirect stdout")
		}
		return toml.NewEncoder(os.Stdout).Encode(file)
	}

	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("keygen: create %s: %w", *out, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(file); err != nil {
		return fmt.Errorf("keygen: write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d consumer credential(s) to %s\n", len(file.Consumers), *out)
	return nil
}

func newSecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("keygen: read random: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

func runCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	credentialsPath := fs.String("credentials", "", "path to the TOML credentials file")
	consumerID := fs.String("id", "", "consumer id to sign as")
	rawURL := fs.String("url", "", "request URL")
	method := fs.String("method", http.MethodPost, "HTTP method")
	body := fs.String("body", "", "request body")
	contentType := fs.String("content-type", "application/json", "request content type")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *credentialsPath == "" || *consumerID == "" || *rawURL == "" {
		return fmt.Errorf("call: -credentials, -id, and -url are required")
	}

	store, err := auth.LoadCredentials(*credentialsPath)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	secret, ok := store.Secret(*consumerID)
	if !ok {
		return fmt.Errorf("call: consumer %s not found in %s", *consumerID, *credentialsPath)
	}
	signer, err := client.NewSigner(client.Credentials{ID: *consumerID, Secret: secret})
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}

	var payload []byte
	if *body != "" {
		payload = []byte(*body)
	}
	httpClient := &http.Client{Timeout: *timeout}
	resp, err := signer.Do(httpClient, strings.ToUpper(*method), *rawURL, *contentType, payload)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()

	fmt.Printf("%s %s\n", resp.Proto, resp.Status)
	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("call: read response: %w", err)
	}
	if len(responseBody) > 0 {
		fmt.Println(string(responseBody))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}
