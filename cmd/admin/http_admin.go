package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func runningCmd(args []string) {
	fs := flag.NewFlagSet("running", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3200", "server base url")
	_ = fs.Parse(args)

	b, err := call(http.MethodGet, endpoint(*baseURL, "/admin/v1/exercises"), nil, 5*time.Second)
	exitOnErr(err)
	fmt.Println(string(b))
}

func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3200", "server base url")
	importPath := fs.String("import", "", "complete export to start from (optional)")
	_ = fs.Parse(args)

	var body []byte
	if *importPath != "" {
		var err error
		if body, err = os.ReadFile(*importPath); err != nil {
			exitOnErr(err)
		}
	}
	b, err := call(http.MethodPost, endpoint(*baseURL, "/api/exercise"), body, 30*time.Second)
	exitOnErr(err)
	fmt.Println(string(b))
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3200", "server base url")
	out := fs.String("out", "", "output file (default: stdout)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin export [-out file] <trainer id>")
		os.Exit(2)
	}

	path := "/api/exercise/" + fs.Arg(0) + "/export"
	if strings.HasSuffix(*out, ".zst") {
		path += "?compress=zstd"
	}
	b, err := call(http.MethodGet, endpoint(*baseURL, path), nil, 60*time.Second)
	exitOnErr(err)
	if *out == "" {
		_, _ = os.Stdout.Write(b)
		return
	}
	exitOnErr(os.WriteFile(*out, b, 0o644))
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:3200", "server base url")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin delete <participant id>")
		os.Exit(2)
	}
	_, err := call(http.MethodDelete, endpoint(*baseURL, "/admin/v1/exercise/"+fs.Arg(0)), nil, 30*time.Second)
	exitOnErr(err)
	fmt.Println("deleted", fs.Arg(0))
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

// call performs one request and returns the body of a 2xx response.
func call(method, url string, body []byte, timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return b, fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(b)))
	}
	return b, nil
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
