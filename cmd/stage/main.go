// Command stage runs one local image through the staging pipeline and uploads
// it to the configured object store, or writes it to a local directory.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/auth"
	"github.com/mirecekd/trnda/internal/config"
	"github.com/mirecekd/trnda/internal/domain"
	"github.com/mirecekd/trnda/internal/repository"
	"github.com/mirecekd/trnda/internal/service"
	"github.com/mirecekd/trnda/pkg/logger"
	"github.com/mirecekd/trnda/pkg/render"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	rotate       int
	annotation   string
	outDir       string
	envFile      string
	hashPassword bool
	verbose      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options

	fs := pflag.NewFlagSet("stage", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVarP(&opts.rotate, "rotate", "r", 0, "quarter turns clockwise before upload")
	fs.StringVarP(&opts.annotation, "annotation", "a", "", "client info stored as object metadata")
	fs.StringVarP(&opts.outDir, "out", "o", "", "write the staged JPEG under this directory instead of uploading")
	fs.StringVar(&opts.envFile, "env-file", "", "load environment from this file")
	fs.BoolVar(&opts.hashPassword, "hash-password", false, "read a password from stdin and print its bcrypt hash")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: stage [flags] <image>")
		fmt.Fprintln(stderr, "       stage --hash-password < password.txt")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if opts.hashPassword {
		if err := printHash(stdin, stdout); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitError
		}
		return exitOK
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	if err := stage(ctx, fs.Arg(0), opts, stdout); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	return exitOK
}

func printHash(stdin io.Reader, stdout io.Writer) error {
	scanner := bufio.NewScanner(stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		return errors.New("no password on stdin")
	}

	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func stage(ctx context.Context, path string, opts options, stdout io.Writer) error {
	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}

	log, err := logger.NewConsole(opts.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	var store repository.ObjectStore
	if opts.outDir != "" {
		store, err = repository.NewFileRepository(opts.outDir, log)
	} else {
		store, err = repository.NewObjectStore(ctx, &cfg.Storage, log)
	}
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	file, err := imageFile(f)
	if err != nil {
		return err
	}

	p := service.NewPipeline(render.NewImageRenderer(log), store, cfg.Storage.BucketName, log,
		service.WithResetDelay(0))

	if _, err := p.SelectImage(ctx, file); err != nil {
		return err
	}

	for i := 0; i < quarterTurns(opts.rotate); i++ {
		if _, err := p.Rotate(); err != nil {
			return err
		}
	}

	if opts.annotation != "" {
		info := p.SetAnnotation(opts.annotation)
		if info.OverSoftLimit && !info.OverLimit {
			log.Warn("Client info is close to the limit",
				zap.Int("length", info.Length),
				zap.Int("limit", domain.AnnotationMaxLength))
		}
	}

	snap := p.Snapshot()
	log.Info("Image staged",
		zap.Int("width", snap.Staged.Width),
		zap.Int("height", snap.Staged.Height),
		zap.Int("rotation", int(snap.Staged.Rotation)))

	result, err := p.Submit(ctx)
	if err != nil {
		return err
	}

	if opts.outDir != "" {
		dest := filepath.Join(opts.outDir, result.Bucket, filepath.FromSlash(result.Key))
		fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", dest, result.Size)
		return nil
	}
	fmt.Fprintf(stdout, "uploaded s3://%s/%s (%d bytes)\n", result.Bucket, result.Key, result.Size)
	return nil
}

func imageFile(f *os.File) (domain.ImageFile, error) {
	info, err := f.Stat()
	if err != nil {
		return domain.ImageFile{}, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return domain.ImageFile{}, fmt.Errorf("failed to read %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return domain.ImageFile{}, fmt.Errorf("failed to rewind %s: %w", f.Name(), err)
	}

	return domain.ImageFile{
		Name:        filepath.Base(f.Name()),
		ContentType: mt.String(),
		Size:        info.Size(),
		Body:        f,
	}, nil
}

// quarterTurns normalizes n to 0..3; negative values turn counter-clockwise.
func quarterTurns(n int) int {
	return ((n % 4) + 4) % 4
}
