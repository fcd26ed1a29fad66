// Command examclient is a terminal front end for the exam session controller.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/remote"
	"github.com/stemsi/exstem-client/internal/session"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Checkpoint Store ──────────────────────────────────────────────
	store, err := checkpoint.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.CheckpointBackend).Msg("Failed to open checkpoint store")
	}
	defer store.Close()

	// ─── Remote Session API ────────────────────────────────────────────
	client := remote.NewFromConfig(cfg, log)
	in := bufio.NewReader(os.Stdin)

	if client.Token() == "" {
		if err := login(ctx, client, in); err != nil {
			fmt.Println("Login gagal:", describe(err))
			os.Exit(1)
		}
	}

	var focus session.FocusReporter = client
	if cfg.FocusTransport == config.FocusTransportWS {
		wsr := remote.NewWSReporter(cfg.WSBaseURL, client, log)
		defer wsr.Close()
		focus = wsr
	}

	ctrl := session.New(client, focus, store, session.OptionsFromConfig(cfg), log)

	if err := open(ctx, ctrl, in, log); err != nil {
		fmt.Println("Tidak dapat membuka ujian:", describe(err))
		os.Exit(1)
	}

	visibility := make(chan session.Visibility, 4)
	ctrl.Watch(visibility)

	runLoop(ctx, ctrl, in, visibility)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("Pending answers not saved on exit")
	}
	if ctrl.View().Session.Status.Terminal() {
		if err := ctrl.Forget(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear checkpoints")
		}
	}
}

func login(ctx context.Context, client *remote.Client, in *bufio.Reader) error {
	fmt.Println("=== Login Siswa ===")
	nisn := prompt(in, "NISN: ")
	fmt.Print("Kata sandi: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	res, err := client.Login(ctx, nisn, string(pw))
	if err != nil {
		return err
	}
	fmt.Printf("Selamat datang, %s.\n", res.Student.Name)
	return nil
}

// open resumes the checkpointed session or starts a new one.
func open(ctx context.Context, ctrl *session.Controller, in *bufio.Reader, log zerolog.Logger) error {
	err := ctrl.Resume(ctx)
	if err == nil {
		fmt.Println("Melanjutkan ujian sebelumnya.")
		return nil
	}
	if !errors.Is(err, examerr.ErrNoSession) {
		log.Warn().Err(err).Msg("Resume failed, starting a new session")
	}

	examID := prompt(in, "ID ujian: ")
	fmt.Print("Kata sandi ujian: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read exam password: %w", err)
	}
	return ctrl.Start(ctx, examID, string(pw))
}

const help = `Perintah:
  n           soal berikutnya (kumpulkan di soal terakhir)
  p           soal sebelumnya
  g <nomor>   pindah ke soal nomor
  o <opsi>    pilih/batal pilih opsi (id opsi)
  x <opsi>    coret/batal coret opsi
  a <teks>    jawab soal esai
  f           tandai/hapus tanda ragu-ragu
  w           simpan jawaban sekarang
  h | v       simulasi tab tersembunyi / terlihat
  s           kumpulkan ujian
  q           keluar`

func runLoop(ctx context.Context, ctrl *session.Controller, in *bufio.Reader, visibility chan<- session.Visibility) {
	fmt.Println(help)
	for {
		view := ctrl.View()
		render(view)
		if view.Session.Status.Terminal() {
			return
		}

		line := prompt(in, "> ")
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch cmd {
		case "n":
			_, err = ctrl.Next(ctx)
		case "p":
			err = ctrl.Prev(ctx)
		case "g":
			var n int
			n, err = strconv.Atoi(arg)
			if err == nil {
				err = ctrl.GoTo(ctx, n-1)
			}
		case "o":
			_, err = ctrl.ToggleOption(arg)
		case "x":
			_, err = ctrl.ToggleElimination(arg)
		case "a":
			err = ctrl.SetAnswer(arg)
		case "f":
			_, err = ctrl.ToggleReviewFlag()
		case "w":
			err = ctrl.Flush(ctx)
		case "h":
			visibility <- session.Hidden
		case "v":
			visibility <- session.Visible
		case "s":
			if strings.EqualFold(prompt(in, "Kumpulkan sekarang? (y/n) "), "y") {
				_, err = ctrl.Submit(ctx)
			}
		case "q":
			return
		case "":
		default:
			fmt.Println(help)
		}

		if err != nil && !examerr.IsSilent(err) {
			fmt.Println("!", describe(err))
		}
	}
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}
