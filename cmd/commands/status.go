package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"courseloop/internal/config"
	"courseloop/internal/heartbeat"
)

func heartbeatPath() string {
	return filepath.Join(config.BasePath(), "heartbeat.json")
}

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check whether the gateway is running",
		Action: func(_ context.Context, cmd *cli.Command) error {
			var body map[string]string
			if err := getJSON(gatewayURL(cmd, "/api/health"), &body); err == nil {
				fmt.Printf("Gateway: %s\n", body["status"])
				return nil
			}

			// HTTP unreachable, fall back to the heartbeat file.
			status, hb, err := heartbeat.Check(heartbeatPath(), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}
			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Gateway: ALIVE (PID %d, addr %s, uptime %s, tasks %d)\n", hb.PID, hb.Addr, hb.Uptime, hb.Tasks)
			case heartbeat.StatusStale:
				fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Gateway: NOT RUNNING")
			}
			return nil
		},
	}
}
