// Command mcp-shelladapter is the MCP Shell-Tool Adapter Server: it reads
// an MCP session's JSON-RPC requests and notifications over stdio, gates
// tool execution behind the sandbox handshake (§4.4), and dispatches
// tools/call against the declarative tool registry through the Execution
// Adapter (§4.3). Progress notifications and the final result for each
// call are written back over the same stdio stream as they are produced.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/adapter"
	"github.com/ahma-project/mcp-shelladapter/internal/config"
	"github.com/ahma-project/mcp-shelladapter/internal/events"
	"github.com/ahma-project/mcp-shelladapter/internal/logmonitor"
	"github.com/ahma-project/mcp-shelladapter/internal/mcp"
	"github.com/ahma-project/mcp-shelladapter/internal/ops"
	"github.com/ahma-project/mcp-shelladapter/internal/registry"
	"github.com/ahma-project/mcp-shelladapter/internal/sandbox"
	"github.com/ahma-project/mcp-shelladapter/internal/shellpool"
	"github.com/ahma-project/mcp-shelladapter/internal/telemetry"
	"goa.design/clue/log"
)

// Environment equivalents of the sandbox and tool knobs (§6). The two
// boolean knobs are ORed with their flags, the skip list is appended to the
// config's disabled tools, and a non-empty scope replaces the config's
// legacy sandbox scope.
const (
	envNoSandbox   = "MCP_SHELLADAPTER_NO_SANDBOX"
	envNoTempFiles = "MCP_SHELLADAPTER_NO_TEMP_FILES"
	envSkipTools   = "MCP_SHELLADAPTER_SKIP_TOOLS"
	envLegacyScope = "MCP_SHELLADAPTER_SANDBOX_SCOPE"
)

func main() {
	configPath := flag.String("config", "", "path to the server YAML configuration file")
	noSandbox := flag.Bool("no-sandbox", false, "run without OS-level sandbox enforcement (refuses to start on unsupported OS otherwise)")
	noTempFiles := flag.Bool("no-temp-files", false, "deny sandboxed processes access to the OS temp directory")
	testBypass := flag.Bool("test-bypass-sandbox", false, "skip OS-level sandbox enforcement while still enforcing scope membership in-process")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// This server speaks line-delimited JSON-RPC on stdin; running it from
	// an interactive terminal is always a mistake (§6 exit codes).
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
		fmt.Fprintln(os.Stderr, "mcp-shelladapter: stdin is a terminal; this server must be launched by an MCP client over a pipe")
		flag.Usage()
		os.Exit(2)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	if *noSandbox || os.Getenv(envNoSandbox) != "" {
		cfg.NoSandbox = true
	}
	if *noTempFiles || os.Getenv(envNoTempFiles) != "" {
		cfg.NoTempFiles = true
	}
	if *testBypass {
		cfg.SandboxMode = "test-bypass"
	}
	if skip := os.Getenv(envSkipTools); skip != "" {
		for _, name := range strings.Split(skip, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.DisabledTools = append(cfg.DisabledTools, name)
			}
		}
	}
	if scope := os.Getenv(envLegacyScope); scope != "" {
		cfg.LegacySandboxScope = scope
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()

	reg, loadErrs, err := registry.Load(cfg.ToolsDir, cfg.GuidancePath)
	if err != nil {
		log.Fatalf(ctx, err, "load tool registry")
	}
	for _, lerr := range loadErrs {
		logger.Warn(ctx, "tool configuration file skipped", "error", lerr.Error())
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, 30*time.Second)
	for _, d := range reg.ProbeAll(probeCtx) {
		if d.InstallInstructions != "" {
			logger.Warn(ctx, "tool unavailable, disabled", "tool", d.Name, "install", d.InstallInstructions)
		} else {
			logger.Warn(ctx, "tool unavailable, disabled", "tool", d.Name)
		}
	}
	probeCancel()

	launcher := &shellpool.ExecLauncher{HarnessPath: cfg.ShellHarnessPath}
	pool := shellpool.New(launcher,
		shellpool.WithPerDirectoryCapacity(cfg.ShellPoolPerDirectoryCapacity),
		shellpool.WithGlobalCapacity(cfg.ShellPoolGlobalCapacity),
		shellpool.WithIdleTimeout(cfg.ShellIdleTimeout),
		shellpool.WithHealthInterval(cfg.ShellHealthCheckInterval),
		shellpool.WithLogger(logger),
		shellpool.WithTracer(tracer),
		shellpool.WithCanonicalizeFunc(func(path string) (string, error) {
			return sandbox.OSCanonicalizer{}.Canonicalize(path, "")
		}),
	)
	defer pool.Shutdown()

	monitor := ops.New(
		ops.WithDefaultTimeout(cfg.OperationDefaultTimeout),
		ops.WithCompletionHistory(cfg.CompletionHistorySize),
		ops.WithLogger(logger),
		ops.WithTracer(tracer),
	)

	broadcaster := events.NewChannelBroadcaster(256, true)
	defer broadcaster.Close()

	ad := adapter.New(reg, pool, monitor,
		adapter.WithLogger(logger),
		adapter.WithTracer(tracer),
		adapter.WithDefaultTimeout(cfg.DefaultCommandTimeout),
		adapter.WithSequenceStepDelay(cfg.SequenceStepDelay),
		adapter.WithLogMonitorConfig(logMonitorConfig(cfg)),
	)

	mode := sandbox.ModeStrict
	if cfg.NoSandbox || cfg.SandboxMode == "test-bypass" {
		mode = sandbox.ModeTestBypass
		logger.Warn(ctx, "OS-level sandbox enforcement is disabled", "mode", string(mode))
	}
	var enforcer sandbox.OSEnforcer
	if mode == sandbox.ModeStrict {
		enforcer = sandbox.DefaultEnforcer()
	}

	handshake := sandbox.NewHandshake(
		sandbox.WithMode(mode),
		sandbox.WithEnforcer(enforcer),
		sandbox.WithCanonicalizer(sandbox.OSCanonicalizer{}),
		sandbox.WithTimeout(cfg.HandshakeTimeout),
		sandbox.WithTempFiles(!cfg.NoTempFiles),
		sandbox.WithOnLocked(func(scope sandbox.Scope) {
			logger.Info(ctx, "sandbox locked", "roots", fmt.Sprintf("%v", scope.Roots()))
		}),
		sandbox.WithOnFailed(func(err error) {
			logger.Error(ctx, "sandbox handshake failed", "error", err.Error())
		}),
	)

	session := mcp.NewSession(mcp.Deps{
		Handshake:     handshake,
		Registry:      reg,
		Adapter:       ad,
		Monitor:       monitor,
		Broadcaster:   broadcaster,
		Logger:        logger,
		DisabledTools: cfg.DisabledTools,
	})

	// The legacy single-path scope override locks the sandbox up front; the
	// roots handshake is skipped entirely (§6 environment knobs).
	if cfg.LegacySandboxScope != "" {
		if err := handshake.LockWithScope([]string{cfg.LegacySandboxScope}); err != nil {
			log.Fatalf(ctx, err, "lock legacy sandbox scope %q", cfg.LegacySandboxScope)
		}
		scope := handshake.Scope()
		ad.SetScope(&scope)
	}

	runCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigc
		errc <- fmt.Errorf("received signal %s", sig)
	}()

	go func() {
		errc <- serveStdio(runCtx, session, logger)
	}()

	cause := <-errc
	reason := "stdin closed"
	if cause != nil {
		reason = cause.Error()
	}
	logger.Info(ctx, "shutting down", "reason", reason)

	// Bounded grace for in-flight operations to finish naturally, then
	// cancel the survivors with a distinguishing reason, then a short final
	// grace for the cancellation events to flush before exiting (§5).
	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	monitor.WaitForPrefix(graceCtx, []string{""})
	graceCancel()
	if count, _ := monitor.ShutdownSummary(); count > 0 {
		logger.Warn(ctx, "cancelling operations still active after grace period", "count", count)
		monitor.CancelAll(fmt.Sprintf("Cancelled due to server shutdown (%s)", reason))
		time.Sleep(500 * time.Millisecond)
	}
	cancel()
}

// logMonitorConfig translates the server configuration's log-monitor knobs
// into a logmonitor.Config (§4.3).
func logMonitorConfig(cfg config.Server) logmonitor.Config {
	out := logmonitor.DefaultConfig()
	switch cfg.LogMonitorLevel {
	case "warning", "warn":
		out.AlertThreshold = logmonitor.SeverityWarning
	case "critical":
		out.AlertThreshold = logmonitor.SeverityCritical
	default:
		out.AlertThreshold = logmonitor.SeverityError
	}
	switch cfg.LogMonitorStream {
	case "stdout":
		out.Stream = logmonitor.StreamStdout
	case "stderr":
		out.Stream = logmonitor.StreamStderr
	default:
		out.Stream = logmonitor.StreamBoth
	}
	if cfg.MaxOutputBytes > 0 {
		out.MaxBufferedBytes = cfg.MaxOutputBytes
	}
	return out
}

// lineWriter serializes line-delimited JSON writes to stdout across the
// request loop and the progress-forwarding goroutine.
type lineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (lw *lineWriter) writeLine(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w.Write(b)
	lw.w.WriteByte('\n')
	lw.w.Flush()
}

// serveStdio runs the JSON-RPC request/notification loop over stdin/stdout:
// one JSON value per line in, at least one JSON value per line out. It
// returns when stdin is closed or ctx is done.
func serveStdio(ctx context.Context, session *mcp.Session, logger telemetry.Logger) error {
	reader := bufio.NewReader(os.Stdin)
	writer := &lineWriter{w: bufio.NewWriter(os.Stdout)}

	sub, err := session.Subscribe(ctx)
	if err == nil {
		go forwardProgress(sub, writer)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var req mcp.Request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn(ctx, "malformed JSON-RPC message dropped", "error", err.Error())
			continue
		}

		resp, notify := dispatchRequest(ctx, session, req)
		if notify != nil {
			writer.writeLine(notify)
		}
		if resp != nil {
			writer.writeLine(resp)
		}
	}
}

// forwardProgress streams published progress events to the client as
// notifications/progress messages for the life of the subscription. Only
// events carrying a progress token are forwarded: a call that supplied no
// _meta.progressToken receives no notifications/progress at all (§6,
// Testable Property 8).
func forwardProgress(sub events.Subscription, writer *lineWriter) {
	defer sub.Close()
	for ev := range sub.C() {
		if ev.ProgressToken == "" {
			continue
		}
		payload, err := events.MarshalForTransport(ev)
		if err != nil {
			continue
		}
		writer.writeLine(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notifications/progress",
			"params":  json.RawMessage(payload),
		})
	}
}

// dispatchRequest routes one decoded JSON-RPC message to the matching
// Session method. It returns a *mcp.Response for the methods that answer
// the caller, and a notification to emit for notifications/initialized
// (the roots/list request) and for the roots response.
func dispatchRequest(ctx context.Context, session *mcp.Session, req mcp.Request) (*mcp.Response, any) {
	switch req.Method {
	case "initialize":
		if err := session.HandleInitialize(); err != nil {
			resp := errResponse(req.ID, -32000, err.Error())
			return &resp, nil
		}
		// Over stdio the response stream doubles as the event stream, so the
		// SSE-open step of the handshake is satisfied immediately.
		if err := session.HandleSSEOpen(); err != nil {
			resp := errResponse(req.ID, -32000, err.Error())
			return &resp, nil
		}
		resp := okResponse(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"sessionId":       session.ID,
		})
		return &resp, nil

	case "notifications/initialized":
		notif, err := session.HandleInitializedNotification()
		if err != nil {
			return nil, nil
		}
		return nil, notif

	case "roots/list/response":
		var params struct {
			Roots []struct {
				URI  string `json:"uri"`
				Name string `json:"name"`
			} `json:"roots"`
		}
		_ = json.Unmarshal(req.Params, &params)
		roots := make([]sandbox.RootURI, len(params.Roots))
		for i, r := range params.Roots {
			roots[i] = sandbox.RootURI{URI: r.URI, Name: r.Name}
		}
		notif, _ := session.HandleRootsResponse(roots)
		return nil, notif

	case "tools/list":
		resp := okResponse(req.ID, session.ToolsList())
		return &resp, nil

	case "tools/call":
		if err := session.Gate(); err != nil {
			resp := gateErrResponse(req.ID, err)
			return &resp, nil
		}
		var params mcp.CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp := errResponse(req.ID, -32602, err.Error())
			return &resp, nil
		}
		result, err := session.ToolsCall(ctx, params)
		if err != nil {
			resp := errResponse(req.ID, -32000, err.Error())
			return &resp, nil
		}
		resp := okResponse(req.ID, result)
		return &resp, nil

	default:
		resp := errResponse(req.ID, -32601, fmt.Sprintf("unknown method %q", req.Method))
		return &resp, nil
	}
}

func okResponse(id json.RawMessage, result any) mcp.Response {
	raw, _ := json.Marshal(result)
	return mcp.Response{JSONRPC: "2.0", ID: id, Result: raw}
}

func errResponse(id json.RawMessage, code int, message string) mcp.Response {
	return mcp.Response{JSONRPC: "2.0", ID: id, Error: &mcp.RPCError{Code: code, Message: message}}
}

func gateErrResponse(id json.RawMessage, err error) mcp.Response {
	if gateErr, ok := err.(*sandbox.GateError); ok {
		return errResponse(id, gateErr.Code, gateErr.Message)
	}
	return errResponse(id, -32000, err.Error())
}
