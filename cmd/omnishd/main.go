// Command omnishd is the session daemon: it accepts RPC connections
// from omnish clients, records PTY traffic per session, and runs the
// command tracker and event detector server-side.
//
// Grounded on cmd/wtd/main.go's cobra-root + signal.NotifyContext
// shutdown idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ehrlich-b/omnish/internal/buildinfo"
	"github.com/ehrlich-b/omnish/internal/errkind"
	"github.com/ehrlich-b/omnish/internal/framing"
	"github.com/ehrlich-b/omnish/internal/omnishlog"
	"github.com/ehrlich-b/omnish/internal/rpc"
	"github.com/ehrlich-b/omnish/internal/session"
	"github.com/ehrlich-b/omnish/internal/streamstore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		socketFlag    string
		baseDirFlag   string
		configFlag    string
		logLevelFlag  string
		evictHours    float64
		cleanupHours  float64
	)

	root := &cobra.Command{
		Use:     "omnishd",
		Short:   "omnish session daemon",
		Version: buildinfo.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := omnishlog.Init(logLevelFlag, ""); err != nil {
				return err
			}

			addr := socketFlag
			if addr == "" {
				addr = os.Getenv("OMNISH_SOCKET")
			}
			if addr == "" {
				home, _ := os.UserHomeDir()
				addr = filepath.Join(home, ".omnish", "omnishd.sock")
			}

			trigger := session.AutoTriggerConfig{}
			if configFlag != "" {
				data, err := os.ReadFile(configFlag)
				if err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				if err := yaml.Unmarshal(data, &trigger); err != nil {
					return fmt.Errorf("parse config: %w", err)
				}
			}

			baseDir := baseDirFlag
			if baseDir == "" {
				home, _ := os.UserHomeDir()
				baseDir = filepath.Join(home, ".omnish", "sessions")
			}
			if err := os.MkdirAll(baseDir, 0755); err != nil {
				return fmt.Errorf("create base dir: %w", err)
			}
			if network, resolved := rpc.ParseAddr(addr); network == rpc.Unix {
				os.MkdirAll(filepath.Dir(resolved), 0755)
			}

			mgr := session.NewManager(baseDir, omnishlog.Log)
			mgr.Trigger = trigger
			mgr.NewID = func() string { return uuid.NewString() }

			srv := &rpc.Server{Logger: omnishlog.Log}
			if err := srv.Bind(addr); err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			go runPeriodicJobs(ctx, mgr, time.Duration(evictHours*float64(time.Hour)), time.Duration(cleanupHours*float64(time.Hour)))

			omnishlog.Log.Info("omnishd listening", "addr", addr, "base_dir", baseDir)
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Serve(ctx, handle(mgr)) }()

			select {
			case <-ctx.Done():
				omnishlog.Log.Info("shutting down")
				return srv.Close()
			case err := <-serveErr:
				return err
			}
		},
	}

	root.Flags().StringVar(&socketFlag, "socket", "", "listen address (unix path or host:port); defaults to $OMNISH_SOCKET")
	root.Flags().StringVar(&baseDirFlag, "base-dir", "", "session storage directory (default ~/.omnish/sessions)")
	root.Flags().StringVar(&configFlag, "config", "", "path to an AutoTriggerConfig YAML file")
	root.Flags().StringVar(&logLevelFlag, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().Float64Var(&evictHours, "evict-hours", 1, "inactive session eviction interval/threshold in hours")
	root.Flags().Float64Var(&cleanupHours, "cleanup-hours", 48, "session directory cleanup threshold in hours")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPeriodicJobs(ctx context.Context, mgr *session.Manager, evictEvery, cleanupAfter time.Duration) {
	if evictEvery <= 0 {
		evictEvery = time.Hour
	}
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := mgr.EvictInactive(evictEvery, now)
			if len(evicted) > 0 {
				omnishlog.Log.Info("evicted inactive sessions", "count", len(evicted))
			}
			removed, err := mgr.CleanupExpiredDirs(cleanupAfter, now)
			if err != nil {
				omnishlog.Log.Warn("cleanup_expired_dirs failed", "err", err)
			} else if len(removed) > 0 {
				omnishlog.Log.Info("removed expired session directories", "count", len(removed))
			}
		}
	}
}

// handle dispatches one decoded RPC Message to the session manager,
// returning the Message to send back as the reply, per spec §4.3/§4.7.
func handle(mgr *session.Manager) rpc.Handler {
	return func(ctx context.Context, msg framing.Message) framing.Message {
		now := time.Now()
		switch msg.Type {
		case framing.TypeSessionStart:
			return handleSessionStart(mgr, msg, now)
		case framing.TypeSessionEnd:
			return handleSessionEnd(mgr, msg, now)
		case framing.TypeIoData:
			return handleIoData(mgr, msg, now)
		case framing.TypeRequest, framing.TypeCompletionRequest:
			return errMessage(errkind.Backend, "LLM backend is not wired into this daemon")
		default:
			return errMessage(errkind.Protocol, "unsupported message type: "+string(msg.Type))
		}
	}
}

func handleSessionStart(mgr *session.Manager, msg framing.Message, now time.Time) framing.Message {
	if msg.SessionStart == nil {
		return errMessage(errkind.Protocol, "session_start payload missing")
	}
	p := msg.SessionStart
	started := now
	if p.StartedAtMs > 0 {
		started = time.UnixMilli(p.StartedAtMs)
	}
	if _, err := mgr.Register(p.SessionID, p.ParentSessionID, p.Attrs, started); err != nil {
		return errMessage(errkind.KindOf(err), err.Error())
	}
	return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
}

func handleSessionEnd(mgr *session.Manager, msg framing.Message, now time.Time) framing.Message {
	if msg.SessionEnd == nil {
		return errMessage(errkind.Protocol, "session_end payload missing")
	}
	p := msg.SessionEnd
	ended := now
	if p.EndedAtMs > 0 {
		ended = time.UnixMilli(p.EndedAtMs)
	}
	if err := mgr.EndSession(p.SessionID, ended); err != nil {
		return errMessage(errkind.KindOf(err), err.Error())
	}
	return framing.Message{Type: framing.TypeAck, Ack: &framing.AckPayload{}}
}

func handleIoData(mgr *session.Manager, msg framing.Message, now time.Time) framing.Message {
	if msg.IoData == nil {
		return errMessage(errkind.Protocol, "io_data payload missing")
	}
	p := msg.IoData
	recs, events, err := mgr.WriteIO(p.SessionID, p.TsMs, streamstore.Direction(p.Direction), p.Data, now)
	if err != nil {
		return errMessage(errkind.KindOf(err), err.Error())
	}
	ack := &framing.AckPayload{}
	for _, r := range recs {
		ack.Records = append(ack.Records, framing.CommandRecord{
			CommandID:     r.CommandID,
			SessionID:     r.SessionID,
			CommandLine:   r.CommandLine,
			Cwd:           r.Cwd,
			StartedAtMs:   r.StartedAtMs,
			EndedAtMs:     r.EndedAtMs,
			OutputSummary: r.OutputSummary,
			StreamOffset:  r.StreamOffset,
			StreamLength:  r.StreamLength,
			ExitCode:      r.ExitCode,
		})
	}
	for _, e := range events {
		ack.Events = append(ack.Events, framing.EventPayload{
			SessionID: p.SessionID,
			Kind:      e.Kind,
			Detail:    e.Detail,
			ExitCode:  e.ExitCode,
		})
	}
	return framing.Message{Type: framing.TypeAck, Ack: ack}
}

func errMessage(kind errkind.Kind, text string) framing.Message {
	return framing.Message{Type: framing.TypeErrorMsg, Error: &framing.ErrorPayload{Kind: string(kind), Message: text}}
}
