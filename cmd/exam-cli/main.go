// Command exam-cli runs one exam session in a terminal. Answers are typed on
// stdin; Ctrl-C and window resizes are reported as violations.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/questionset"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/source"
	"github.com/stemsi/exstem-proctor/internal/store"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	var id model.Identity
	flag.StringVar(&id.LastName, "last", "", "Last name")
	flag.StringVar(&id.FirstName, "first", "", "First name")
	flag.StringVar(&id.Code, "code", "", "Exam code")
	flag.Parse()

	cfg := config.Load()
	if os.Getenv("DEVICE_STORE") == "" {
		cfg.DeviceStore = "sqlite"
	}
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load escalation policy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The terminal has no Redis; session keys live next to the device keys.
	device, closeDevice, err := database.OpenDeviceStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open device store")
	}
	defer closeDevice()

	recorder := delivery.NewRecorder(cfg.RecorderURL, cfg.HTTPTimeout, log)
	queue := delivery.NewQueue(device, recorder, recorder, log)

	sessions := service.NewSessionService(service.SessionDeps{
		Sessions:            store.Namespaced(device, "cli:"),
		Device:              device,
		Source:              source.NewClient(cfg.RecorderURL, cfg.HTTPTimeout, log),
		Sender:              recorder,
		Probe:               recorder,
		Queue:               queue,
		Tokens:              service.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry),
		Policy:              policy,
		DefaultTimerSeconds: cfg.DefaultTimerSeconds,
		FinalRetryInterval:  cfg.FinalRetryInterval,
	}, log)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go worker.NewFlushWorker(queue, cfg.FlushInterval, log).Start(workerCtx)

	sess, _, err := sessions.Start(ctx, id, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot start the exam: %v\n", err)
		os.Exit(1)
	}

	out := &printer{w: os.Stdout}
	detach, err := sess.Attach(ctx, out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to attach")
	}

	term := newTerminal(int(os.Stdout.Fd()))
	go func() {
		if err := term.Watch(ctx, sess.Signals()); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Terminal watch ended")
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Println("Type your answer and press Enter. Commands: /skip, /recall CODE, /draft TEXT, /continue, /exit")
	for running := true; running; {
		select {
		case <-sess.Done():
			running = false
		case line, ok := <-lines:
			if !ok {
				running = false
				break
			}
			if err := dispatch(ctx, sess, out, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}

	detach()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session shutdown error")
	}
}

func dispatch(ctx context.Context, sess *service.Session, out *printer, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	return sess.Do(ctx, func(c *engine.Controller) error {
		switch cmd {
		case "/skip":
			return c.Skip()
		case "/recall":
			return c.RecallSkipped(questionset.NormalizeCode(arg))
		case "/draft":
			return c.SaveDraft(out.current, arg)
		case "/continue":
			c.DismissNotice()
			return nil
		case "/exit":
			return c.Abort()
		}
		return c.Submit(line)
	})
}
