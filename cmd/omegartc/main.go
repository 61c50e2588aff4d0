package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"omegartc/native/internal/api"
	"omegartc/native/internal/bridge"
	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
	"omegartc/native/internal/events"
	"omegartc/native/internal/registry"
	"omegartc/native/internal/signal"
	"omegartc/native/internal/webrtc"
)

const helpText = `omegartc - WebRTC connection manager for a visual-programming runtime

Usage:
  omegartc [options]

Serves a local WebSocket at ws://<OMEGA_LISTEN>/rtc. The host runtime
creates offers and answers, exchanges the encoded strings with other
peers however it likes, and sends messages over data channels.

Environment Variables (all optional):
  OMEGA_LISTEN          Listen address (default 127.0.0.1:8765)
  OMEGA_ICE_SERVERS     Comma-separated STUN/TURN URLs
  OMEGA_ICE_USERNAME    TURN username
  OMEGA_ICE_CREDENTIAL  TURN credential
  OMEGA_ICE_POLICY      all or relay (default all)
  OMEGA_ICE_URL         Endpoint returning {"iceServers":[...]}
  OMEGA_ICE_TOKEN       Bearer token for OMEGA_ICE_URL
  OMEGA_TRICKLE         Publish candidates as they are gathered
  OMEGA_LOOPBACK        Gather loopback candidates
  OMEGA_MICROPHONE      silence or none (default silence)
  OMEGA_RECORD_DIR      Write incoming voice to .ogg files here
  PION_LOG_<LEVEL>      Log scopes to enable, e.g. PION_LOG_DEBUG=registry,bridge

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	lf := logging.NewDefaultLoggerFactory()
	log := lf.NewLogger("main")

	cfg, err := config.Load()
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		cancel()
	}()

	// Relay credentials from the credentials endpoint replace static ones.
	if cfg.ICEURL != "" {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, 10*time.Second)
		servers, err := api.NewClient(nil).FetchICEServers(fetchCtx, cfg.ICEURL, cfg.ICEToken)
		fetchCancel()
		if err != nil {
			log.Errorf("fetch ice servers: %v", err)
			os.Exit(1)
		}
		cfg.RTC.ICEServers = servers
		log.Infof("fetched %d ice servers", len(servers))
	}

	engine := webrtc.NewEngine(webrtc.Options{
		LoggerFactory: lf,
		Microphone:    cfg.Microphone,
		RecordDir:     cfg.RecordDir,
	})
	reg := registry.New(engine, cfg.RTC, events.NewBus(), lf)
	facade := signal.NewFacade(reg, lf)
	br := bridge.NewServer(facade, lf)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           br.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("listening on ws://%s%s", cfg.ListenAddr, bridge.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("serve: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	br.Close()
	for _, mode := range []domain.Mode{domain.ModeData, domain.ModeVoice} {
		for _, peer := range reg.Peers(mode) {
			reg.Close(mode, peer)
		}
	}

	log.Infof("done")
}
