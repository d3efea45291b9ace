package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"bumplink/internal/config"
	"bumplink/internal/contactstore"
	"bumplink/internal/domain"
	"bumplink/internal/exchange"
	"bumplink/internal/matchclient"
	"bumplink/internal/motion"
	"bumplink/internal/observability"
	"bumplink/internal/permission"
)

// gravity is the resting vertical acceleration a still device reports
const gravity = 9.81

func main() {
	// Load configuration first
	cfg := config.Load()

	// Initialize structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "text"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting bump agent",
		slog.String("server", cfg.MatchServerURL))

	// One goroutine owns stdin; the permission prompt and the command
	// loop both consume from it
	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	requester := permission.RequesterFunc(func() (permission.Result, error) {
		fmt.Print("grant motion sensor access? [y/N] ")
		answer, ok := <-lines
		if !ok {
			return permission.Result{}, fmt.Errorf("console closed before an answer")
		}
		if strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
			return permission.Result{Decision: permission.Granted}, nil
		}
		return permission.Result{Decision: permission.Denied, Reason: "declined at the console"}, nil
	})

	source := &consoleSource{}
	sampler := motion.NewSampler(source, cfg.SampleRateCap)
	detector := motion.NewDetector(sampler, cfg.BumpSensitivity, cfg.BumpRefractory)
	gate := permission.NewGate(requester)
	client := matchclient.New(cfg.MatchServerURL)
	store := contactstore.New(cfg.MatchServerURL)

	machine := exchange.NewMachine(gate, detector, client, store, profileFromEnv(), cfg.MatchWaitWindow)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	policy := agentPolicy()
	machine.OnChange(func(snap exchange.Snapshot) {
		render(snap)
		if snap.State != domain.StateMatched {
			return
		}
		if policy == "manual" {
			fmt.Println("press a to accept or r to reject")
			return
		}
		fmt.Printf("applying %s policy\n", policy)
		go applyPolicy(ctx, machine, policy)
	})

	fmt.Println("bump agent ready")
	fmt.Println("  enter  simulate a bump")
	fmt.Println("  a      accept the current match")
	fmt.Println("  r      reject the current match")
	fmt.Println("  c      cancel the attempt")
	fmt.Println("  n      start a new attempt")
	fmt.Println("  s      show the current state")
	fmt.Println("  q      quit")
	if policy != "manual" {
		fmt.Printf("AGENT_POLICY=%s, matches are answered automatically\n", policy)
	}

	if err := machine.Start(ctx); err != nil {
		fmt.Printf("could not start exchange: %v\n", err)
	}

loop:
	for {
		select {
		case <-sigChan:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			switch line {
			case "":
				// A spike well past the threshold, so the simulated tap
				// never lands in the detector's dead zone
				source.Tap(cfg.BumpSensitivity * 2)
			case "a":
				if _, err := machine.Accept(ctx); err != nil {
					fmt.Printf("accept failed: %v\n", err)
				}
			case "r":
				if err := machine.Reject(ctx); err != nil {
					fmt.Printf("reject failed: %v\n", err)
				}
			case "c":
				machine.Cancel()
			case "n":
				machine.Reset()
				if err := machine.Start(ctx); err != nil {
					fmt.Printf("could not start exchange: %v\n", err)
				}
			case "s":
				snap := machine.Snapshot()
				fmt.Printf("state: %s", snap.State)
				if snap.SessionID != "" {
					fmt.Printf("  session: %s", snap.SessionID)
				}
				fmt.Println()
			case "q":
				break loop
			default:
				fmt.Printf("unknown command %q\n", line)
			}
		}
	}

	slog.Info("shutting down bump agent")
	machine.Cancel()
	cancel()
	time.Sleep(1 * time.Second)
	slog.Info("bump agent stopped")
}

// render prints the user-facing line for each state the exchange
// reaches. Failures of the console are not interesting enough to
// handle.
func render(snap exchange.Snapshot) {
	switch snap.State {
	case domain.StateWaitingForBump:
		fmt.Println("listening for a bump")
	case domain.StateProcessing:
		fmt.Println("bump sent, waiting for a match")
	case domain.StateMatched:
		if snap.Peer != nil {
			fmt.Printf("matched with %s\n", snap.Peer.DisplayName)
			for _, ch := range snap.Peer.Channels {
				fmt.Printf("  %s: %s\n", ch.Kind, ch.Value)
			}
		}
	case domain.StateAccepted:
		if snap.Contact != nil {
			fmt.Printf("contact saved: %s (%s)\n", snap.Contact.DisplayName, snap.Contact.ID)
		}
		fmt.Println("press n for a new attempt")
	case domain.StateRejected:
		fmt.Println("exchange rejected, press n for a new attempt")
	case domain.StateTimeout:
		fmt.Println("no match arrived in time, press n to retry")
	case domain.StateError:
		fmt.Printf("exchange failed: %s\n", snap.Reason)
		fmt.Println("press n to retry")
	}
}

// profileFromEnv builds the card announced to the matching service.
// The defaults make a fresh checkout usable immediately.
func profileFromEnv() domain.PeerProfile {
	name := os.Getenv("AGENT_NAME")
	if name == "" {
		name = "Console Agent"
	}
	email := os.Getenv("AGENT_EMAIL")
	if email == "" {
		email = "agent@bumplink.local"
	}

	profile := domain.PeerProfile{
		DisplayName: name,
		Channels: []domain.ContactChannel{
			{Kind: "email", Value: email},
		},
		Colors: []string{"#1f6feb", "#238636"},
	}
	if phone := os.Getenv("AGENT_PHONE"); phone != "" {
		profile.Channels = append(profile.Channels, domain.ContactChannel{Kind: "phone", Value: phone})
	}
	return profile
}

// agentPolicy reads AGENT_POLICY: manual (default) leaves the accept
// and reject commands to the console, accept and reject answer every
// match without waiting. Two agents with opposing policies make a
// complete scripted demo against a running server.
func agentPolicy() string {
	policy := strings.ToLower(os.Getenv("AGENT_POLICY"))
	switch policy {
	case "accept", "reject":
		return policy
	case "", "manual":
		return "manual"
	}
	fmt.Printf("unknown AGENT_POLICY %q, using manual\n", policy)
	return "manual"
}

// applyPolicy runs the configured handshake action for a fresh match
func applyPolicy(ctx context.Context, machine *exchange.Machine, policy string) {
	if policy == "accept" {
		if _, err := machine.Accept(ctx); err != nil {
			fmt.Printf("auto accept failed: %v\n", err)
		}
		return
	}
	if err := machine.Reject(ctx); err != nil {
		fmt.Printf("auto reject failed: %v\n", err)
	}
}

// consoleSource stands in for a platform accelerometer. Tap feeds one
// resting sample and one spike through the subscription, the minimal
// pair the detector needs to see a jerk.
type consoleSource struct {
	mu   sync.Mutex
	emit func(motion.Sample)
}

func (s *consoleSource) Subscribe(fn func(motion.Sample)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = fn

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.emit = nil
	}
	return cancel, nil
}

func (s *consoleSource) Tap(spike float64) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()

	if emit == nil {
		fmt.Println("sensor not armed")
		return
	}

	now := time.Now()
	emit(motion.Sample{Z: gravity, T: now})
	emit(motion.Sample{Z: gravity + spike, T: now.Add(5 * time.Millisecond)})
}
