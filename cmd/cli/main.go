package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cryptoetl/internal/auth"
	"cryptoetl/pkg/models"
)

const defaultBaseURL = "http://localhost:8000"

type tokenData struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type dataResponse struct {
	Data       []models.UnifiedAsset `json:"data"`
	Pagination struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
	} `json:"pagination"`
}

// credentials is what doJSON authenticates with: the API key when given,
// otherwise a saved operator token.
type credentials struct {
	apiKey string
	token  string
}

func main() {
	global := flag.NewFlagSet("etlctl", flag.ExitOnError)
	baseURL := global.String("api", envOr("ETL_API_URL", defaultBaseURL), "API base URL")
	apiKey := global.String("key", os.Getenv("APP_API_KEY"), "API key (X-API-Key)")
	tokenPath := global.String("token", defaultTokenPath(), "token file path")
	if err := global.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := args[0]
	sub := ""
	if len(args) > 1 {
		sub = args[1]
	}
	rest := args[1:]

	client := &http.Client{Timeout: 15 * time.Second}
	creds := func() credentials { return loadCredentials(*apiKey, *tokenPath) }

	switch cmd {
	case "auth":
		handleAuth(ctx, client, *baseURL, *apiKey, *tokenPath, sub, tail(args, 2))
	case "data":
		handleData(ctx, client, *baseURL, creds(), rest)
	case "stats":
		var resp map[string]any
		if err := doJSON(ctx, client, http.MethodGet, *baseURL+"/stats", creds(), nil, &resp); err != nil {
			log.Fatalf("stats failed: %v", err)
		}
		printJSON(resp)
	case "metrics":
		text, err := doText(ctx, client, *baseURL+"/metrics", creds())
		if err != nil {
			log.Fatalf("metrics failed: %v", err)
		}
		fmt.Print(text)
	case "health":
		var resp map[string]any
		if err := doJSON(ctx, client, http.MethodGet, *baseURL+"/health", creds(), nil, &resp); err != nil {
			log.Fatalf("health failed: %v", err)
		}
		printJSON(resp)
	case "runs":
		handleRuns(ctx, client, *baseURL, creds(), rest)
	case "compare":
		handleCompare(ctx, client, *baseURL, creds(), rest)
	case "trigger":
		var resp map[string]any
		if err := doJSON(ctx, client, http.MethodPost, *baseURL+"/etl/run", creds(), nil, &resp); err != nil {
			log.Fatalf("trigger failed: %v", err)
		}
		printJSON(resp)
	case "hash-key":
		handleHashKey(rest)
	case "export":
		handleExport(ctx, client, *baseURL, creds(), sub, tail(args, 2))
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(ctx context.Context, client *http.Client, baseURL, apiKey, tokenPath, sub string, args []string) {
	switch sub {
	case "token":
		fs := flag.NewFlagSet("auth token", flag.ExitOnError)
		operator := fs.String("operator", os.Getenv("USER"), "operator name recorded in the token")
		_ = fs.Parse(args)

		if apiKey == "" {
			log.Fatal("an API key is required (-key or APP_API_KEY)")
		}
		var resp tokenData
		payload := map[string]string{"operator": *operator}
		if err := doJSON(ctx, client, http.MethodPost, baseURL+"/auth/token", credentials{apiKey: apiKey}, payload, &resp); err != nil {
			log.Fatalf("token request failed: %v", err)
		}
		if err := saveToken(tokenPath, resp); err != nil {
			log.Fatalf("save token: %v", err)
		}
		fmt.Printf("✅ token saved, expires %s\n", resp.ExpiresAt)
	case "logout":
		if err := clearToken(tokenPath); err != nil {
			log.Fatalf("logout failed: %v", err)
		}
		fmt.Println("✅ token removed")
	default:
		log.Fatal("usage: etlctl auth <token|logout>")
	}
}

func handleData(ctx context.Context, client *http.Client, baseURL string, creds credentials, args []string) {
	fs := flag.NewFlagSet("data", flag.ExitOnError)
	symbol := fs.String("symbol", "", "symbol filter")
	page := fs.Int("page", 1, "page (>= 1)")
	limit := fs.Int("limit", 10, "page size (1-100)")
	_ = fs.Parse(args)

	resp, err := fetchPage(ctx, client, baseURL, creds, *symbol, *page, *limit)
	if err != nil {
		log.Fatalf("data failed: %v", err)
	}
	printJSON(resp)
}

func handleRuns(ctx context.Context, client *http.Client, baseURL string, creds credentials, args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 10, "number of runs")
	_ = fs.Parse(args)

	var resp []models.RunStatus
	endpoint := baseURL + "/runs?limit=" + strconv.Itoa(*limit)
	if err := doJSON(ctx, client, http.MethodGet, endpoint, creds, nil, &resp); err != nil {
		log.Fatalf("runs failed: %v", err)
	}
	printJSON(resp)
}

func handleCompare(ctx context.Context, client *http.Client, baseURL string, creds credentials, args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	id1 := fs.Int64("a", 0, "first run id")
	id2 := fs.Int64("b", 0, "second run id")
	_ = fs.Parse(args)
	if *id1 <= 0 || *id2 <= 0 {
		log.Fatal("usage: etlctl compare -a <run id> -b <run id>")
	}

	q := url.Values{}
	q.Set("run_id_1", strconv.FormatInt(*id1, 10))
	q.Set("run_id_2", strconv.FormatInt(*id2, 10))

	var resp map[string]any
	if err := doJSON(ctx, client, http.MethodGet, baseURL+"/compare-runs?"+q.Encode(), creds, nil, &resp); err != nil {
		log.Fatalf("compare failed: %v", err)
	}
	printJSON(resp)
}

func handleHashKey(args []string) {
	fs := flag.NewFlagSet("hash-key", flag.ExitOnError)
	key := fs.String("key", "", "key to hash (reads stdin when empty)")
	_ = fs.Parse(args)

	k := *key
	if k == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		k = strings.TrimSpace(string(b))
	}
	h, err := auth.HashKey(k)
	if err != nil {
		log.Fatalf("hash failed: %v", err)
	}
	fmt.Println(h)
}

func handleExport(ctx context.Context, client *http.Client, baseURL string, creds credentials, sub string, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output path")
	symbol := fs.String("symbol", "", "symbol filter")
	_ = fs.Parse(args)

	if sub != "json" && sub != "csv" {
		log.Fatal("usage: etlctl export <json|csv> -out <path>")
	}
	if *out == "" {
		*out = filepath.Join("data", "export."+sub)
	}

	items, err := fetchAll(ctx, client, baseURL, creds, *symbol)
	if err != nil {
		log.Fatalf("export fetch failed: %v", err)
	}

	switch sub {
	case "json":
		err = writeJSON(*out, items)
	case "csv":
		err = writeCSV(*out, items)
	}
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Printf("✅ exported %d assets to %s\n", len(items), *out)
}

func fetchPage(ctx context.Context, client *http.Client, baseURL string, creds credentials, symbol string, page, limit int) (*dataResponse, error) {
	u, err := url.Parse(baseURL + "/data")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	var resp dataResponse
	if err := doJSON(ctx, client, http.MethodGet, u.String(), creds, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func fetchAll(ctx context.Context, client *http.Client, baseURL string, creds credentials, symbol string) ([]models.UnifiedAsset, error) {
	const pageSize = 100
	var out []models.UnifiedAsset
	for page := 1; ; page++ {
		resp, err := fetchPage(ctx, client, baseURL, creds, symbol, page, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		if len(resp.Data) < pageSize || len(out) >= resp.Pagination.Total {
			return out, nil
		}
	}
}

func writeJSON(path string, items []models.UnifiedAsset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeCSV(path string, items []models.UnifiedAsset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "symbol", "name", "price_usd", "market_cap", "source", "last_updated"}); err != nil {
		return err
	}
	for _, a := range items {
		mcap := ""
		if a.MarketCap != nil {
			mcap = strconv.FormatFloat(*a.MarketCap, 'f', -1, 64)
		}
		if err := w.Write([]string{
			a.ID, a.Symbol, a.Name,
			strconv.FormatFloat(a.PriceUSD, 'f', -1, 64),
			mcap, a.Source.String(),
			a.LastUpdated.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint string, creds credentials, payload any, out any) error {
	data, err := do(ctx, client, method, endpoint, creds, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func doText(ctx context.Context, client *http.Client, endpoint string, creds credentials) (string, error) {
	data, err := do(ctx, client, http.MethodGet, endpoint, creds, nil)
	return string(data), err
}

func do(ctx context.Context, client *http.Client, method, endpoint string, creds credentials, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case creds.apiKey != "":
		req.Header.Set(auth.HeaderAPIKey, creds.apiKey)
	case creds.token != "":
		req.Header.Set("Authorization", "Bearer "+creds.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("json: %v", err)
	}
	fmt.Println(string(b))
}

func loadCredentials(apiKey, tokenPath string) credentials {
	if apiKey != "" {
		return credentials{apiKey: apiKey}
	}
	token, err := readToken(tokenPath)
	if err != nil || token == "" {
		log.Fatal("no credentials: pass -key, set APP_API_KEY, or run `etlctl auth token`")
	}
	return credentials{token: token}
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.cryptoetl-token.json"
	}
	return filepath.Join(home, ".cryptoetl", "token.json")
}

func saveToken(path string, td tokenData) error {
	if td.Token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var td tokenData
	if err := json.Unmarshal(data, &td); err != nil {
		return "", err
	}
	return strings.TrimSpace(td.Token), nil
}

func clearToken(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func tail(args []string, n int) []string {
	if len(args) <= n {
		return nil
	}
	return args[n:]
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printUsage() {
	fmt.Println("etlctl [-api url] [-key key] <command> [subcommand] [flags]")
	fmt.Println("commands:")
	fmt.Println("  auth token|logout")
	fmt.Println("  data [-symbol s] [-page n] [-limit n]")
	fmt.Println("  stats | metrics | health")
	fmt.Println("  runs [-limit n]")
	fmt.Println("  compare -a id -b id")
	fmt.Println("  trigger")
	fmt.Println("  hash-key [-key k]")
	fmt.Println("  export json|csv [-out path]")
}
