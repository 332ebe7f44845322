package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"flowcraft.ai/internal/observerproto"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	if err := adminCall(http.MethodGet, adminURL(*baseURL, "/admin/v1/state"), 5*time.Second, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	if err := adminCall(http.MethodPost, adminURL(*baseURL, "/admin/v1/snapshot"), 10*time.Second, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// watchCmd follows the observer stream and prints one line per tick.
func watchCmd(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	types := fs.String("types", "", "comma separated network types (default: all)")
	machines := fs.Bool("machines", false, "include machine states")
	errorsOnly := fs.Bool("errors", false, "only aborted networks")
	count := fs.Int("n", 0, "stop after n ticks (0 = until interrupted)")
	_ = fs.Parse(args)

	sub := observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		Machines:        *machines,
		ErrorsOnly:      *errorsOnly,
	}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			sub.Types = append(sub.Types, t)
		}
	}
	if err := watch(wsURL(*baseURL, "/admin/v1/observer/ws"), sub, *count, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "watch:", err)
		os.Exit(1)
	}
}

func watch(url string, sub observerproto.SubscribeMsg, count int, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for n := 0; count <= 0 || n < count; n++ {
		var msg observerproto.TickMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

// adminCall copies the response body to out and fails on a non-2xx status.
func adminCall(method, url string, timeout time.Duration, out io.Writer) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimRight(string(b), "\n"))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, url, resp.Status)
	}
	return nil
}

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func wsURL(base, path string) string {
	u := adminURL(base, path)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
