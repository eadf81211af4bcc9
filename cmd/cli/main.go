// Command bsctl is a CLI client for the buyersign service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dwellingly/buyersign/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "buyersign")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "buyersign")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// ---- http client ----

type client struct {
	base   string
	bearer string
	http   *http.Client
}

func newClient(base, bearer string) *client {
	return &client{
		base:   strings.TrimRight(base, "/"),
		bearer: bearer,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("%s (%d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func authedClient(base string) *client {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	return newClient(base, token)
}

func usage() {
	fmt.Fprintf(os.Stderr, `bsctl CLI
Usage:
  bsctl -addr URL <cmd> [args]

Commands:
  version
  register  -u <username> -p <password>
  login     -u <username> -p <password>            (saves token)
  create    -buyer <name> -contact <email> [-ttl <days>] [-template <json file>]
  list
  get       -id <uuid>
  send      -id <uuid>
  revoke    -id <uuid>
  open      -token <raw link token>
  sign      -token <raw link token> -name <typed name>
  verify    -cert <certificate id>
  kpis
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// defaultTemplate is used by create when no -template file is given.
var defaultTemplate = model.AgreementTemplate{
	ID:           "tpl-generic-1",
	Name:         "Buyer Representation Agreement",
	Jurisdiction: "TX",
	Version:      "2025.1",
	SummarySections: []model.SummarySection{
		{Title: "What this is", Content: "An agreement that your agent represents you in a home purchase."},
		{Title: "How long it lasts", Content: "Until the invite expires or either side ends it in writing."},
		{Title: "What it costs", Content: "Compensation is disclosed in the full agreement text."},
	},
	FullText:               "See the full agreement text provided by your agent.",
	CompensationDisclosure: "Disclosed in the agreement.",
}

// main dispatches subcommands against the HTTP API.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("bsctl %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		var out struct {
			AgentID string `json:"agentId"`
		}
		if err := newClient(*addr, "").do(ctx, http.MethodPost, "/api/auth/register",
			map[string]string{"username": *u, "password": *p}, &out); err != nil {
			fail(err)
		}
		fmt.Println(out.AgentID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := newClient(*addr, "").do(ctx, http.MethodPost, "/api/auth/login",
			map[string]string{"username": *u, "password": *p}, &out); err != nil {
			fail(err)
		}

		// parse exp from JWT
		var claims jwt.RegisteredClaims
		_, _ = jwt.ParseWithClaims(out.AccessToken, &claims, func(*jwt.Token) (any, error) { return nil, nil },
			jwt.WithoutClaimsValidation(),
		)
		exp := time.Now().Add(15 * time.Minute)
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		if err := saveToken(out.AccessToken, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		buyer := fs.String("buyer", "", "buyer name")
		contact := fs.String("contact", "", "buyer email or phone")
		ttl := fs.Int("ttl", 0, "days until expiry (0 = default)")
		tmplPath := fs.String("template", "", "agreement template JSON file")
		_ = fs.Parse(flag.Args()[1:])
		if *buyer == "" || *contact == "" {
			fmt.Fprintln(os.Stderr, "need -buyer and -contact")
			os.Exit(1)
		}

		tmpl := defaultTemplate
		if *tmplPath != "" {
			b, err := os.ReadFile(*tmplPath)
			if err != nil {
				fail(err)
			}
			if err := json.Unmarshal(b, &tmpl); err != nil {
				fail(fmt.Errorf("parse template: %w", err))
			}
		}

		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/invites", map[string]any{
			"buyerName":    *buyer,
			"buyerContact": *contact,
			"ttlDays":      *ttl,
			"template":     tmpl,
		}, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "list":
		var out []map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodGet, "/api/invites", nil, &out); err != nil {
			fail(err)
		}
		// печатаем коротко
		type row struct{ ID, Buyer, Status, Certificate string }
		rows := []row{}
		for _, inv := range out {
			r := row{}
			r.ID, _ = inv["id"].(string)
			r.Buyer, _ = inv["buyerName"].(string)
			r.Status, _ = inv["status"].(string)
			r.Certificate, _ = inv["certificateId"].(string)
			rows = append(rows, r)
		}
		printJSON(rows)

	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		id := fs.String("id", "", "invite id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodGet, "/api/invites/"+*id, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "send", "revoke":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "invite id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		evType := model.EventInviteSent
		if cmd == "revoke" {
			evType = model.EventInviteRevoked
		}
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/invites/"+*id+"/events",
			map[string]any{"type": evType}, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "open":
		fs := flag.NewFlagSet("open", flag.ExitOnError)
		token := fs.String("token", "", "raw link token")
		_ = fs.Parse(flag.Args()[1:])
		if *token == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		var out map[string]any
		if err := newClient(*addr, "").do(ctx, http.MethodGet, "/api/sign/"+*token, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "sign":
		fs := flag.NewFlagSet("sign", flag.ExitOnError)
		token := fs.String("token", "", "raw link token")
		name := fs.String("name", "", "typed full legal name")
		_ = fs.Parse(flag.Args()[1:])
		if *token == "" || *name == "" {
			fmt.Fprintln(os.Stderr, "need -token and -name")
			os.Exit(1)
		}
		var out struct {
			CertificateID string `json:"certificateId"`
		}
		if err := newClient(*addr, "").do(ctx, http.MethodPost, "/api/sign/"+*token,
			map[string]any{"typedName": *name, "consent": true}, &out); err != nil {
			fail(err)
		}
		fmt.Println(out.CertificateID)

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		cert := fs.String("cert", "", "certificate id")
		_ = fs.Parse(flag.Args()[1:])
		if *cert == "" {
			fmt.Fprintln(os.Stderr, "need -cert")
			os.Exit(1)
		}
		var out map[string]any
		if err := newClient(*addr, "").do(ctx, http.MethodGet, "/api/certificates/"+*cert, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "kpis":
		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodGet, "/api/reports/kpis", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	default:
		usage()
	}
}
