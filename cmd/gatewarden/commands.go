package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// command bundles the operator commands that talk to a running daemon.
type command struct{}

// APIFlags holds daemon connection flags shared by operator commands.
type APIFlags struct {
	APIUrl     string
	APIToken   string
	APITimeout time.Duration
}

func (f APIFlags) client() *APIClient {
	return NewAPIClient(f.APIUrl, f.APIToken, f.APITimeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Status prints the discovered gateway process and the health-gate view.
func (command) Status(flags APIFlags) error {
	c := flags.client()
	if !c.IsReachable() {
		return fmt.Errorf("daemon not reachable at %s", c.baseURL)
	}

	hz, err := c.Healthz()
	if err != nil {
		return err
	}
	fmt.Println("state health:")
	if err := printJSON(hz); err != nil {
		return err
	}

	proc, err := c.GatewayProcess()
	if err != nil {
		fmt.Printf("gateway: %v\n", err)
		return nil
	}
	fmt.Println("gateway process:")
	return printJSON(proc)
}

// Ensure asks the daemon to start the gateway if it is not already running.
func (command) Ensure(flags APIFlags) error {
	if err := flags.client().EnsureGateway(); err != nil {
		return err
	}
	fmt.Println("gateway is running")
	return nil
}

// Restart kills and relaunches the gateway.
func (command) Restart(flags APIFlags) error {
	res, err := flags.client().RestartGateway()
	if err != nil {
		return err
	}
	return printJSON(res)
}

// Sync triggers a health-gated state sync to the durable volume.
func (command) Sync(flags APIFlags) error {
	res, err := flags.client().Sync()
	if err != nil {
		return err
	}
	return printJSON(res)
}

// Backups lists versioned and golden snapshots.
func (command) Backups(flags APIFlags) error {
	infos, err := flags.client().Backups()
	if err != nil {
		return err
	}
	return printJSON(infos)
}

// GoldenBackup takes a manual full snapshot of the durable state.
func (command) GoldenBackup(flags APIFlags) error {
	res, err := flags.client().GoldenBackup()
	if err != nil {
		return err
	}
	return printJSON(res)
}

// Restore replaces the live state from the named backup.
func (command) Restore(flags APIFlags, kind, name string) error {
	if err := flags.client().Restore(kind, name); err != nil {
		return err
	}
	fmt.Printf("restored state from %s backup %s\n", kind, name)
	return nil
}
