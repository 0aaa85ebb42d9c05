package anyone

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Process is a running anon daemon owned by the manager.
type Process interface {
	Stop(ctx context.Context) error
}

type ProcessConfig struct {
	Binary          string
	WorkDir         string
	SOCKSPort       int
	ControlAddr     string
	ControlPort     int
	ControlPassword string
	StartTimeout    time.Duration
}

type Launcher interface {
	Launch(ctx context.Context, cfg ProcessConfig) (Process, error)
}

// ExecLauncher writes an anonrc, starts the binary and waits until the
// control port accepts connections.
type ExecLauncher struct {
	Logger zerolog.Logger
}

func (l ExecLauncher) Launch(ctx context.Context, cfg ProcessConfig) (Process, error) {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = time.Minute
	}
	if _, err := os.Stat(cfg.Binary); err != nil {
		return nil, fmt.Errorf("anon binary not found at %s: %w", cfg.Binary, err)
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "anon-*")
		if err != nil {
			return nil, err
		}
		workDir = dir
	}
	rcPath, err := writeRC(workDir, cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Binary, "-f", rcPath)
	cmd.Dir = workDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start anon: %w", err)
	}
	p := &execProcess{cmd: cmd, exited: make(chan struct{})}
	go pipeLog(l.Logger, stdout)
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()
	if err := waitForPort(waitCtx, cfg.ControlAddr, p.exited); err != nil {
		_ = p.Stop(context.Background())
		return nil, err
	}
	l.Logger.Info().Int("pid", cmd.Process.Pid).Msg("anon process started")
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// Stop interrupts the daemon and kills it if it has not exited by the time
// ctx ends or five seconds pass.
func (p *execProcess) Stop(ctx context.Context) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return p.cmd.Process.Kill()
	}
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return p.cmd.Process.Kill()
}

func pipeLog(logger zerolog.Logger, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		logger.Debug().Str("source", "anon").Msg(sc.Text())
	}
}

func waitForPort(ctx context.Context, addr string, exited <-chan struct{}) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		select {
		case <-exited:
			return errors.New("anon process exited during startup")
		case <-ctx.Done():
			return fmt.Errorf("wait for control port %s: %w", addr, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func writeRC(dir string, cfg ProcessConfig) (string, error) {
	hashed, err := HashControlPassword(cfg.ControlPassword)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SocksPort %d\n", cfg.SOCKSPort)
	fmt.Fprintf(&b, "ControlPort %d\n", rcControlPort(cfg))
	fmt.Fprintf(&b, "HashedControlPassword %s\n", hashed)
	fmt.Fprintf(&b, "DataDirectory %s\n", filepath.Join(dir, "data"))
	b.WriteString("AgreeToTerms 1\n")
	path := filepath.Join(dir, "anonrc")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write anonrc: %w", err)
	}
	return path, nil
}

// rcControlPort is the port of ControlAddr when it carries one, so the
// daemon listens where the manager dials.
func rcControlPort(cfg ProcessConfig) int {
	if _, port, err := net.SplitHostPort(cfg.ControlAddr); err == nil {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			return n
		}
	}
	return cfg.ControlPort
}

// s2kSpecifier selects 65536 bytes of iterated hashing.
const s2kSpecifier = 0x60

// HashControlPassword produces the "16:<hex>" iterated-salted digest the
// daemon expects in HashedControlPassword.
func HashControlPassword(password string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return hashControlPassword(password, salt), nil
}

func hashControlPassword(password string, salt []byte) string {
	count := (16 + (s2kSpecifier & 15)) << ((s2kSpecifier >> 4) + 6)
	chunk := append(append([]byte(nil), salt...), password...)
	h := sha1.New()
	for count > 0 {
		n := min(count, len(chunk))
		h.Write(chunk[:n])
		count -= n
	}
	out := append(append([]byte(nil), salt...), s2kSpecifier)
	out = h.Sum(out)
	return "16:" + strings.ToUpper(hex.EncodeToString(out))
}

// ResolveBinary returns explicit when set, else the packaged binary under
// cwd's node_modules. It returns "" when no candidate exists.
func ResolveBinary(explicit, cwd string) string {
	if explicit != "" {
		return explicit
	}
	p := filepath.Join(cwd, "node_modules", "@anyone-protocol", "anyone-client", "bin",
		nodePlatform(runtime.GOOS), nodeArch(runtime.GOARCH), binaryName(runtime.GOOS))
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

func binaryName(goos string) string {
	if goos == "windows" {
		return "anon.exe"
	}
	return "anon"
}

// nodePlatform and nodeArch map to the directory names the client package
// ships binaries under.
func nodePlatform(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func nodeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}
