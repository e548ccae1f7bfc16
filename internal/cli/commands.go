package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zwire/zwire/internal/config"
	"github.com/zwire/zwire/internal/logging"
	"github.com/zwire/zwire/internal/netconn"
	"github.com/zwire/zwire/internal/orchestrator"
	"github.com/zwire/zwire/internal/progress"
	"github.com/zwire/zwire/internal/secure"
	"github.com/zwire/zwire/internal/session"
	"github.com/zwire/zwire/internal/transfer"
)

// env holds everything a command needs after dialing and authenticating.
type env struct {
	cfg  config.Config
	log  *slog.Logger
	sess *session.Session
	user string
	pass string
}

// setup parses flags, dials the server and authenticates. The caller owns
// the returned session.
func setup(args []string, wantArgs int, usage string) (*env, []string, error) {
	cfg, rest, err := config.Parse(args)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < wantArgs {
		return nil, nil, fmt.Errorf("usage: zwire %s", usage)
	}
	log := logging.New("zwire", cfg.LogLevel)

	user, pass, err := credentials()
	if err != nil {
		return nil, nil, err
	}

	sess, err := dial(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.Authenticate(user, pass); err != nil {
		sess.Logout()
		return nil, nil, err
	}
	return &env{cfg: cfg, log: log, sess: sess, user: user, pass: pass}, rest, nil
}

func dial(cfg config.Config, log *slog.Logger) (*session.Session, error) {
	cipher, err := secure.NewCipher([]byte(cfg.Key))
	if err != nil {
		return nil, err
	}
	conn, err := netconn.Dial(cfg.ServerAddr, cfg.Timeout, log)
	if err != nil {
		return nil, err
	}
	sess := session.New(conn, cipher, log)
	if err := sess.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// credentials come from the environment or an interactive prompt. They
// are held in memory only.
func credentials() (string, string, error) {
	user := os.Getenv("ZWIRE_USER")
	pass := os.Getenv("ZWIRE_PASSWORD")
	reader := bufio.NewReader(os.Stdin)
	if user == "" {
		fmt.Fprint(os.Stderr, "username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("read username: %w", err)
		}
		user = strings.TrimSpace(line)
	}
	if pass == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		pass = strings.TrimSpace(line)
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("username and password are required")
	}
	return user, pass, nil
}

func (e *env) transferOptions(verbose bool) transfer.Options {
	opts := transfer.Options{
		ChunkRetries:  e.cfg.ChunkRetries,
		BackoffBase:   e.cfg.BackoffBase,
		ChecksumOn:    e.cfg.Checksum,
		CheckpointDir: e.cfg.CheckpointDir,
		Verbose:       verbose,
	}
	// interleaved percent lines from parallel workers are worse than none
	if verbose {
		opts.Progress = &stderrProgress{}
	}
	return opts
}

func (e *env) transferClient() *transfer.Client {
	return transfer.NewClient(e.sess, e.transferOptions(true), e.log)
}

func runUpload(args []string) error {
	e, rest, err := setup(args, 1, "upload <local-path> [remote-name]")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	localPath := rest[0]
	remoteName := filepath.Base(localPath)
	if len(rest) > 1 {
		remoteName = rest[1]
	}
	if err := e.transferClient().Upload(localPath, remoteName); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "uploaded %s\n", remoteName)
	return nil
}

func runDownload(args []string) error {
	e, rest, err := setup(args, 1, "download <remote-name> [dest-dir]")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	destDir := "."
	if len(rest) > 1 {
		destDir = rest[1]
	}
	path, err := e.transferClient().Download(rest[0], destDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "downloaded to %s\n", path)
	return nil
}

func runResumeUpload(args []string) error {
	e, rest, err := setup(args, 1, "resume-upload <local-path> [remote-name]")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	localPath := rest[0]
	remoteName := filepath.Base(localPath)
	if len(rest) > 1 {
		remoteName = rest[1]
	}
	if err := e.transferClient().ResumeUpload(localPath, remoteName); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "uploaded %s\n", remoteName)
	return nil
}

func runResumeDownload(args []string) error {
	e, rest, err := setup(args, 2, "resume-download <remote-name> <local-path>")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	if err := e.transferClient().ResumeDownload(rest[0], rest[1]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "downloaded to %s\n", rest[1])
	return nil
}

func runUploadDir(args []string) error {
	e, rest, err := setup(args, 1, "upload-dir <local-dir>")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	batch := orchestrator.NewBatch(e.workerFactory(), e.cfg.Workers, e.log)
	var report orchestrator.BatchReport
	if e.cfg.Workers > 1 {
		report, err = batch.UploadParallel(rest[0])
	} else {
		report, err = batch.UploadSequential(rest[0])
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "uploaded %d files (%d bytes), %d failed\n",
		report.Uploaded, report.Bytes, len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", f.RelPath, f.Err)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d of %d files failed", len(report.Failures),
			report.Uploaded+len(report.Failures))
	}
	return nil
}

// workerFactory reuses the already-authenticated session for the first
// worker and dials fresh ones, replaying the cached credentials, for the
// rest.
func (e *env) workerFactory() orchestrator.WorkerFactory {
	first := true
	return func() (orchestrator.Worker, error) {
		if first {
			first = false
			return &sessionWorker{
				sess:   e.sess,
				client: transfer.NewClient(e.sess, e.transferOptions(false), e.log),
				// the command's deferred Logout owns this session
				keepOpen: true,
			}, nil
		}
		sess, err := dial(e.cfg, e.log)
		if err != nil {
			return nil, err
		}
		if err := sess.Authenticate(e.user, e.pass); err != nil {
			sess.Logout()
			return nil, err
		}
		return &sessionWorker{
			sess:   sess,
			client: transfer.NewClient(sess, e.transferOptions(false), e.log),
		}, nil
	}
}

// sessionWorker adapts a session plus transfer client to the batch
// Worker surface.
type sessionWorker struct {
	sess     *session.Session
	client   *transfer.Client
	keepOpen bool
}

func (w *sessionWorker) AnnounceDir(path string, fileCount uint32, totalSize uint64) error {
	return w.client.AnnounceDir(path, fileCount, totalSize)
}

func (w *sessionWorker) Upload(localPath, remoteName string) error {
	return w.client.Upload(localPath, remoteName)
}

func (w *sessionWorker) Close() error {
	if w.keepOpen {
		return nil
	}
	return w.sess.Logout()
}

func runList(args []string) error {
	e, _, err := setup(args, 0, "list")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	resp, err := e.sess.ListRemote()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%d entries, %d bytes total\n", len(resp.Entries), resp.TotalSize)
	for _, entry := range resp.Entries {
		kind := "file"
		if entry.IsDir {
			kind = "dir"
		}
		name := entry.Name
		if entry.Path != "" {
			name = entry.Path + "/" + entry.Name
		}
		fmt.Fprintf(os.Stdout, "%-4s %12d  %s\n", kind, entry.Size, name)
	}
	return nil
}

func runMkdir(args []string) error {
	e, rest, err := setup(args, 1, "mkdir <remote-path>")
	if err != nil {
		return err
	}
	defer e.sess.Logout()

	if err := e.sess.CreateRemoteDirectory(rest[0]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "created %s\n", rest[0])
	return nil
}

// stderrProgress writes a carriage-returned percent line per file, with
// an ETA once the meter has seen enough samples to estimate one.
type stderrProgress struct {
	name    string
	meter   *progress.Meter
	lastPct int
}

func (p *stderrProgress) Update(name string, fraction float64) {
	if name != p.name {
		p.name = name
		if p.meter == nil {
			p.meter = progress.NewMeter()
		}
		p.meter.Start()
		p.lastPct = -1
	}
	p.meter.Update(fraction)
	stats := p.meter.Snapshot()
	pct := int(stats.Percent)
	if pct == p.lastPct && pct != 100 {
		return
	}
	p.lastPct = pct
	if stats.ETA > 0 {
		fmt.Fprintf(os.Stderr, "\r%s %3d%% eta %s", name, pct, stats.ETA.Round(time.Second))
	} else {
		fmt.Fprintf(os.Stderr, "\r%s %3d%%", name, pct)
	}
	if pct >= 100 {
		fmt.Fprintln(os.Stderr)
	}
}

var _ transfer.ProgressSink = (*stderrProgress)(nil)
