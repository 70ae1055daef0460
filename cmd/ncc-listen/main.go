// Command ncc-listen connects to the cloud service and prints live
// events as JSON lines.
//
// Usage:
//
//	ncc-listen -address wss://partner.example.com/ws -client-id ID -client-secret SECRET [flags]
//
// Examples:
//
//	# Stream location updates for every device
//	ncc-listen -address wss://partner.example.com/ws -client-id x -client-secret y
//
//	# Stream tag diffs for two devices, with a config file
//	ncc-listen -config ncc.yaml -events tagdiff -devices 1001,1002
//
//	# One-shot dump of current tag state
//	ncc-listen -config ncc.yaml -events tagstate
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/noccela/ncc-cloud-integration-go/pkg/auth"
	"github.com/noccela/ncc-cloud-integration-go/pkg/client"
	"github.com/noccela/ncc-cloud-integration-go/pkg/log"
	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

func main() {
	var (
		configPath   = flag.String("config", "", "YAML configuration file")
		address      = flag.String("address", "", "websocket URL of the cloud service")
		domain       = flag.String("domain", "", "authentication domain (default: address host)")
		clientID     = flag.String("client-id", "", "integration client id")
		clientSecret = flag.String("client-secret", "", "integration client secret")
		token        = flag.String("token", "", "pre-minted access token (skips the credentials grant)")
		events       = flag.String("events", "location", "comma-separated event streams: location,tagdiff,alertdiff,twr,tagstate,alertstate")
		devices      = flag.String("devices", "", "comma-separated device ids to filter on")
		verbose      = flag.Bool("v", false, "log connection lifecycle events")
	)
	flag.Parse()

	config := client.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = client.LoadConfig(*configPath)
		if err != nil {
			fatal("%v", err)
		}
	}
	if *address != "" {
		config.Address = *address
	}
	if *domain != "" {
		config.Domain = *domain
	}
	if *clientID != "" {
		config.ClientID = *clientID
	}
	if *clientSecret != "" {
		config.ClientSecret = *clientSecret
	}
	if *token != "" {
		config.Token = auth.StaticToken(*token)
	}
	if *verbose {
		config.Logger = log.NewSlogAdapter(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	deviceIDs, err := parseDevices(*devices)
	if err != nil {
		fatal("invalid -devices: %v", err)
	}

	c, err := client.New(config)
	if err != nil {
		fatal("%v", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := c.Connect(ctx)
	if err != nil {
		fatal("connect failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "connected, token valid until %s\n", info.Expires.Format("2006-01-02 15:04:05"))

	oneShot := true
	for _, name := range strings.Split(*events, ",") {
		switch strings.TrimSpace(name) {
		case "location":
			_, err = c.RegisterLocationUpdate(ctx, deviceIDs, func(updates map[int64]*wire.TagLocation) {
				emit("location", updates)
			})
			oneShot = false
		case "tagdiff":
			_, err = c.RegisterTagDiff(ctx, deviceIDs, func(diff *wire.TagDiff) {
				emit("tagDiff", diff)
			})
			oneShot = false
		case "alertdiff":
			_, err = c.RegisterAlertDiff(ctx, deviceIDs, func(diff *wire.AlertDiff) {
				emit("alertDiff", diff)
			})
			oneShot = false
		case "twr":
			_, err = c.RegisterTwr(ctx, deviceIDs, func(samples []wire.TwrSample) {
				emit("twr", samples)
			})
			oneShot = false
		case "tagstate":
			var states map[int64]*wire.TagState
			states, err = c.GetTagState(ctx, deviceIDs)
			if err == nil {
				emit("tagState", states)
			}
		case "alertstate":
			var states map[int64]*wire.AlertState
			states, err = c.GetAlertState(ctx, deviceIDs)
			if err == nil {
				emit("alertState", states)
			}
		case "":
		default:
			fatal("unknown event stream %q", name)
		}
		if err != nil {
			fatal("failed to subscribe to %s: %v", name, err)
		}
	}

	if oneShot {
		return
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "shutting down")
}

func emit(kind string, payload any) {
	out, err := json.Marshal(map[string]any{"event": kind, "data": payload})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode %s event: %v\n", kind, err)
		return
	}
	fmt.Println(string(out))
}

func parseDevices(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
