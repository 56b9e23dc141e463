package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/slotexec"
	"github.com/loykin/slotexec/pkg/client"
)

type command struct {
	global *GlobalFlags
}

// openLocal builds a service from the config file for one CLI invocation.
func (c command) openLocal() (*slotexec.Service, error) {
	cfg, err := slotexec.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return slotexec.Open(*cfg)
}

func apiClient(f APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// Exec runs statement locally or through --api-url and prints the result.
func (c command) Exec(ctx context.Context, w io.Writer, statement string, f ExecFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.APIUrl != "" {
		res, err := apiClient(f.APIFlags).Execute(ctx, statement)
		if err != nil {
			return err
		}
		return printJSON(w, res)
	}

	svc, err := c.openLocal()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	res, err := svc.Execute(ctx, statement)
	if err != nil {
		return err
	}
	return printJSON(w, res)
}

func (c command) SlotsList(ctx context.Context, w io.Writer, f SlotsFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.APIUrl != "" {
		slots, err := apiClient(f.APIFlags).Slots(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, slots)
	}
	svc, err := c.openLocal()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	slots, err := svc.Facility.Slots(ctx)
	if err != nil {
		return err
	}
	return printJSON(w, slots)
}

func (c command) SlotsReset(ctx context.Context, w io.Writer, f SlotsFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var kept []int
	if f.APIUrl != "" {
		var err error
		if kept, err = apiClient(f.APIFlags).Reset(ctx); err != nil {
			return err
		}
	} else {
		svc, err := c.openLocal()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()
		if kept, err = svc.Facility.Reset(ctx); err != nil {
			return err
		}
	}
	if len(kept) > 0 {
		_, err := fmt.Fprintf(w, "execution slots freed; still running: %v\n", kept)
		return err
	}
	_, err := fmt.Fprintln(w, "all execution slots freed")
	return err
}
