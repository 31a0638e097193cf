//go:build windows

// Package main provides Windows service support for lyricdeck.
//
// service_windows.go implements the Windows Service interface using
// github.com/kardianos/service so the generator can run as a background
// service, pre-rendering backgrounds for a watched batch directory.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
)

// Program implements service.Interface for Windows Service integration.
type Program struct {
	ctx    context.Context
	cancel context.CancelFunc
	exit   chan struct{}
}

// Start is called when the service is started.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.exit = make(chan struct{})
	go p.run()
	return nil
}

// Stop signals the application to shut down gracefully.
func (p *Program) Stop(s service.Service) error {
	p.cancel()
	select {
	case <-p.exit:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for service to stop")
	}
	return nil
}

func (p *Program) run() {
	defer close(p.exit)
	<-p.ctx.Done()
}

// ServiceConfig returns the service configuration for Windows.
func ServiceConfig() *service.Config {
	return &service.Config{
		Name:        "LyricDeck",
		DisplayName: "LyricDeck Background Generator",
		Description: "Generates AI background images for lyric slide decks",
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

// RunAsService runs the application as a Windows service.
// Returns true if running as a service, false if running interactively.
func RunAsService() (bool, error) {
	prg := &Program{}
	s, err := service.New(prg, ServiceConfig())
	if err != nil {
		return false, fmt.Errorf("failed to create service: %w", err)
	}

	if service.Interactive() {
		return false, nil
	}

	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run failed: %w", err)
	}
	return true, nil
}

// HandleServiceCommand handles install/uninstall/start/stop verbs.
// Returns true when a verb was recognized and executed.
func HandleServiceCommand(args []string) bool {
	if len(args) == 0 {
		return false
	}

	verb := args[0]
	switch verb {
	case "install", "uninstall", "start", "stop":
	default:
		return false
	}

	prg := &Program{}
	s, err := service.New(prg, ServiceConfig())
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		return true
	}

	switch verb {
	case "install":
		err = s.Install()
	case "uninstall":
		err = s.Uninstall()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	}
	if err != nil {
		fmt.Printf("Service %s failed: %v\n", verb, err)
	} else {
		fmt.Printf("Service %s succeeded\n", verb)
	}
	return true
}
