// sketchctl 是画板服务的命令行工具：本地渲染、下载导出、查看日志和旁观实时协作。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sanity-io/litter"
	"github.com/sirupsen/logrus"

	"collaborative-sketchpad/internal/canvas"
	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/export"
	"collaborative-sketchpad/internal/remote"
	"collaborative-sketchpad/internal/replay"
	"collaborative-sketchpad/internal/session"
	"collaborative-sketchpad/internal/strokelog"
)

const usage = `usage: sketchctl <command> [flags]

commands:
  guest    issue a guest token
  render   replay a sketchpad locally and write png or pdf
  export   download the server-rendered png or pdf
  dump     print the sketchpad stroke log
  watch    follow live updates and write the final canvas on exit
`

type options struct {
	server string
	token  string
	user   string
	id     uint
	format string
	out    string
	width  int
	height int
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var opts options
	var id uint64
	var verbose bool
	fs.StringVar(&opts.server, "server", envOr("SKETCHPAD_SERVER", "http://localhost:8080"), "server base url")
	fs.StringVar(&opts.token, "token", os.Getenv("SKETCHPAD_TOKEN"), "JWT; a guest token is issued when empty")
	fs.StringVar(&opts.user, "user", "", "identity for watch when -token is given")
	fs.Uint64Var(&id, "id", 0, "sketchpad id")
	fs.StringVar(&opts.format, "format", "png", "png or pdf")
	fs.StringVar(&opts.out, "o", "", "output file")
	fs.IntVar(&opts.width, "width", canvas.DefaultWidth, "canvas width")
	fs.IntVar(&opts.height, "height", canvas.DefaultHeight, "canvas height")
	fs.BoolVar(&verbose, "v", false, "debug logging")
	_ = fs.Parse(os.Args[2:])
	opts.id = uint(id)

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "guest":
		err = runGuest(ctx, opts)
	case "render":
		err = runRender(ctx, opts)
	case "export":
		err = runExport(ctx, opts)
	case "dump":
		err = runDump(ctx, opts)
	case "watch":
		err = runWatch(ctx, opts)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logrus.WithError(err).WithField("command", cmd).Fatal("sketchctl failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connect 返回带认证的 HTTPStore 和本地用户标识
func connect(ctx context.Context, opts options) (*remote.HTTPStore, string, error) {
	store := remote.NewHTTPStore(opts.server, opts.token)
	if opts.token != "" {
		return store, opts.user, nil
	}
	user, err := store.Guest(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("issue guest token: %w", err)
	}
	logrus.WithField("user", user).Debug("Using guest identity")
	return store, user, nil
}

func requireID(opts options) error {
	if opts.id == 0 {
		return errors.New("-id is required")
	}
	return nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"file": path, "bytes": len(data)}).Info("Output written")
	return nil
}

func runGuest(ctx context.Context, opts options) error {
	store := remote.NewHTTPStore(opts.server, "")
	user, err := store.Guest(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("user=%s\ntoken=%s\n", user, store.Token())
	return nil
}

// loadLog 读取落库历史和缓存，按加载顺序合并成日志
func loadLog(ctx context.Context, store *remote.HTTPStore, id uint) (*strokelog.Log, error) {
	history, err := store.LoadHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	pending, err := store.LoadPendingCache(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load pending cache: %w", err)
	}
	persisted := make([]domain.Action, 0, len(history))
	for _, e := range history {
		a := e.Stroke
		a.Deleted = e.Deleted
		persisted = append(persisted, a)
	}
	return strokelog.Hydrate(persisted, pending), nil
}

func runRender(ctx context.Context, opts options) error {
	if err := requireID(opts); err != nil {
		return err
	}
	store, _, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	log, err := loadLog(ctx, store, opts.id)
	if err != nil {
		return err
	}

	raster := canvas.NewRaster(opts.width, opts.height)
	engine := replay.NewEngine(raster, replay.WithLogger(logrus.WithField("component", "replay")))
	engine.Redraw(log)
	engine.Wait()

	png, err := canvas.ExportPNG(raster)
	if err != nil {
		return err
	}
	if opts.format == "pdf" {
		pdf, err := export.PDF(png, raster.Width(), raster.Height(), fmt.Sprintf("sketchpad %d", opts.id))
		if err != nil {
			return err
		}
		return writeOutput(opts.out, pdf)
	}
	return writeOutput(opts.out, png)
}

func runExport(ctx context.Context, opts options) error {
	if err := requireID(opts); err != nil {
		return err
	}
	if opts.format != "png" && opts.format != "pdf" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	store, _, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	data, err := store.Export(ctx, opts.id, opts.format)
	if err != nil {
		return err
	}
	return writeOutput(opts.out, data)
}

func runDump(ctx context.Context, opts options) error {
	if err := requireID(opts); err != nil {
		return err
	}
	store, _, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	log, err := loadLog(ctx, store, opts.id)
	if err != nil {
		return err
	}
	dumper := litter.Options{HidePrivateFields: true, HideZeroValues: true, Compact: false}
	fmt.Println(dumper.Sdump(log.Actions()))
	return nil
}

// runWatch 打开一个只读会话，实时接收远端批次，退出时写出画布
func runWatch(ctx context.Context, opts options) error {
	if err := requireID(opts); err != nil {
		return err
	}
	store, user, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	if user == "" {
		return errors.New("-user is required together with -token")
	}

	// 先接上传输层再加载，加载期间到达的批次在频道中排队
	var transport *remote.Transport
	registry := session.NewRegistry()
	sess, err := registry.OpenWith(ctx, session.Config{
		SketchpadID: opts.id,
		User:        user,
		Store:       store,
		Width:       opts.width,
		Height:      opts.height,
		Logger:      logrus.WithField("component", "sketchctl"),
	}, func(s *session.Session) error {
		t, err := remote.Dial(ctx, store.BaseURL(), opts.id, store.Token(), s.Channel(), nil)
		transport = t
		return err
	})
	if err != nil {
		if transport != nil {
			_ = transport.Close()
		}
		return err
	}
	defer transport.Close()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.CloseAll(closeCtx); err != nil {
			logrus.WithError(err).Warn("Failed to close session")
		}
	}()
	logrus.WithField("sketchpad_id", opts.id).Info("Watching sketchpad, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case <-transport.Done():
		logrus.Warn("Connection closed by server")
	}

	_ = transport.Close()
	if opts.out == "" {
		return nil
	}
	png, err := sess.ExportPNG()
	if err != nil {
		return err
	}
	return writeOutput(opts.out, png)
}
