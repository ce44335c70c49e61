package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"lendcore/cmd/internal/passphrase"
	"lendcore/crypto"
	"lendcore/integrations/exports"
	"lendcore/services/riskd/server"
)

const (
	defaultEndpoint  = "http://127.0.0.1:8547"
	defaultSecretEnv = "RISKD_HMAC_SECRET"
	defaultPassEnv   = "RISKCTL_KEYSTORE_PASS"
	defaultTokenEnv  = "RISKD_TOKEN"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "export":
		err = runExport(os.Args[2:], os.Stdout)
	case "status", "markets", "market", "liquidity", "assets", "rewards", "params":
		err = runQuery(os.Args[1], os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: riskctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  keygen     generate a key and write an encrypted keystore")
	fmt.Fprintln(w, "  token      mint a bearer token for riskd")
	fmt.Fprintln(w, "  export     export stored effects as csv, jsonl or parquet")
	fmt.Fprintln(w, "  status     show daemon status")
	fmt.Fprintln(w, "  markets    list markets")
	fmt.Fprintln(w, "  market     show one market (-address)")
	fmt.Fprintln(w, "  liquidity  show account liquidity (-address)")
	fmt.Fprintln(w, "  assets     show entered markets (-address)")
	fmt.Fprintln(w, "  rewards    show accrued rewards (-address)")
	fmt.Fprintln(w, "  params     show global parameters (admin token)")
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "riskd.keystore", "Output path for the keystore file")
	prefix := fs.String("prefix", string(crypto.NHBPrefix), "Address prefix (nhb or nhbm)")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	addressPrefix := crypto.AddressPrefix(strings.TrimSpace(*prefix))
	if addressPrefix != crypto.NHBPrefix && addressPrefix != crypto.MarketPrefix {
		return fmt.Errorf("unknown prefix %q", *prefix)
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "address: %s\nkeystore: %s\n", key.PubKey().Address(addressPrefix), *keystorePath)
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "Caller address carried in the sub claim")
	scopes := fs.String("scopes", "", "Comma separated scopes (admin, guardian, market)")
	issuer := fs.String("issuer", "", "Issuer claim")
	audience := fs.String("audience", "", "Audience claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := passphrase.NewSource(*secretEnv, "riskd HMAC secret").Get()
	if err != nil {
		return err
	}
	token, err := mintToken([]byte(secret), *subject, *scopes, *issuer, *audience, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func mintToken(secret []byte, subject, scopes, issuer, audience string, ttl time.Duration) (string, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(subject))
	if err != nil {
		return "", fmt.Errorf("subject: %w", err)
	}
	var list []string
	for _, scope := range strings.Split(scopes, ",") {
		scope = strings.TrimSpace(scope)
		switch scope {
		case "":
			continue
		case server.ScopeAdmin, server.ScopeGuardian, server.ScopeMarket:
			list = append(list, scope)
		default:
			return "", fmt.Errorf("unknown scope %q", scope)
		}
	}
	return server.IssueToken(secret, addr, list, issuer, audience, ttl)
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dsn := fs.String("dsn", "", "Effect store DSN (sqlite path or postgres URL)")
	format := fs.String("format", "jsonl", "Output format: csv, jsonl or parquet")
	output := fs.String("out", "", "Output file (required for parquet, stdout otherwise)")
	eventType := fs.String("type", "", "Only export effects of this type")
	market := fs.String("market", "", "Only export effects touching this market")
	account := fs.String("account", "", "Only export effects touching this account")
	from := fs.Uint64("from", 0, "Lowest block height")
	to := fs.Uint64("to", 0, "Highest block height (0 for no bound)")
	limit := fs.Int("limit", 0, "Maximum number of rows (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := exports.Open(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return exportEffects(context.Background(), store, exports.Filter{
		Type:       strings.TrimSpace(*eventType),
		Market:     strings.TrimSpace(*market),
		Account:    strings.TrimSpace(*account),
		FromHeight: *from,
		ToHeight:   *to,
		Limit:      *limit,
	}, *format, *output, out)
}

func exportEffects(ctx context.Context, store *exports.Store, filter exports.Filter, format, output string, out io.Writer) error {
	records, err := store.Query(ctx, filter)
	if err != nil {
		return err
	}
	var (
		data     []byte
		checksum string
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "parquet":
		if output == "" {
			return fmt.Errorf("parquet export requires -out")
		}
		rows, err := exports.WriteParquet(output, records)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d reward distributions to %s\n", rows, output)
		return nil
	case "csv":
		data, checksum, err = exports.EffectsCSV(records)
	case "jsonl":
		data, checksum, err = exports.EffectsJSONL(records)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}
	if output == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Fprintf(out, "wrote %d effects to %s (sha256 %s)\n", len(records), output, checksum)
	return nil
}

func runQuery(command string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	endpoint := fs.String("endpoint", defaultEndpoint, "riskd base URL")
	tokenEnv := fs.String("token-env", defaultTokenEnv, "Environment variable containing the bearer token")
	address := fs.String("address", "", "Account or market address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := queryPath(command, *address)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return fetch(context.Background(), client, strings.TrimRight(*endpoint, "/")+path, os.Getenv(*tokenEnv), out)
}

func queryPath(command, address string) (string, error) {
	address = strings.TrimSpace(address)
	needsAddress := func(format string) (string, error) {
		if _, err := crypto.DecodeAddress(address); err != nil {
			return "", fmt.Errorf("-address: %w", err)
		}
		return fmt.Sprintf(format, address), nil
	}
	switch command {
	case "status":
		return "/v1/status", nil
	case "markets":
		return "/v1/markets", nil
	case "params":
		return "/v1/admin/params", nil
	case "market":
		return needsAddress("/v1/markets/%s")
	case "liquidity":
		return needsAddress("/v1/accounts/%s/liquidity")
	case "assets":
		return needsAddress("/v1/accounts/%s/assets")
	case "rewards":
		return needsAddress("/v1/accounts/%s/rewards")
	default:
		return "", fmt.Errorf("unknown query %q", command)
	}
}

// fetch GETs url and pretty-prints the JSON body.
func fetch(ctx context.Context, client *http.Client, url, token string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	encoded, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(encoded))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("riskd returned %s", resp.Status)
	}
	return nil
}
