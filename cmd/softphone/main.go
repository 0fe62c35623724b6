package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/yacall/internal/adapter/driven/capture"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	httprecorder "github.com/Wyydra/yacall/internal/adapter/driven/recorder/http"
	memrecorder "github.com/Wyydra/yacall/internal/adapter/driven/recorder/memory"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load("softphone", os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	l, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	sp, err := cfg.Softphone()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, l, cfg, sp); err != nil {
		var ce *domain.CaptureError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.Message())
		}
		l.Error().Err(err).Msg("Call failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, l zerolog.Logger, cfg config.Config, sp config.Softphone) error {
	client, err := ws.Dial(ctx, cfg.RelayURL, sp.User)
	if err != nil {
		return err
	}
	defer client.Close()

	peers, err := pion.NewFactory(pion.Options{Logger: l})
	if err != nil {
		return err
	}

	var capturer port.MediaCapturer = capture.Synthetic{}
	if sp.Device {
		capturer = capture.Device{}
	}

	var recorder port.CallRecorder = memrecorder.NewRecorder()
	if cfg.RecorderURL != "" {
		recorder = httprecorder.NewRecorder(cfg.RecorderURL)
	}

	svc := service.NewCallService(sp.User, client, capturer, peers, recorder, service.Settings{
		ICEServers:         sp.ICEServers,
		NegotiationTimeout: cfg.NegotiationTimeout,
		Constraints:        sp.Constraints,
	})

	hooks := service.CallHooks{
		OnStateChange: func(s domain.State) {
			l.Info().Str("state", s.String()).Msg("Call state changed")
		},
		OnRemoteStream: func(rs port.RemoteStream) {
			l.Info().Str("stream_id", rs.ID()).Interface("kinds", rs.Kinds()).Msg("Remote media arrived")
		},
	}

	l.Info().Str("user", sp.User.String()).Str("remote", sp.Remote.String()).Msg("Softphone ready")

	var call *service.Call
	switch {
	case !sp.Call.IsZero():
		call, err = svc.Accept(ctx, sp.Call, sp.Remote, hooks)
	case sp.Answer:
		var invite domain.Signal
		if invite, err = waitForOffer(ctx, client, sp.Remote); err != nil {
			return err
		}
		call, err = svc.AcceptOffer(ctx, invite, hooks)
	default:
		call, err = svc.Place(ctx, sp.Remote, hooks)
	}
	if err != nil {
		return err
	}
	l.Info().Str("call", call.Attempt().ID.String()).Msg("Call started")

	select {
	case <-call.Done():
	case <-ctx.Done():
		call.Hangup()
		<-call.Done()
	case <-client.Done():
		l.Warn().Msg("Relay connection lost")
		call.Hangup()
		<-call.Done()
	}

	l.Info().Str("reason", string(call.Reason())).Bool("connected", call.Connected()).Msg("Call ended")
	return call.Err()
}

// waitForOffer blocks until remote sends an offer.
func waitForOffer(ctx context.Context, client *ws.Client, remote domain.UserID) (domain.Signal, error) {
	offers := make(chan domain.Signal, 1)
	unsubscribe := client.OnMessage(domain.SignalOffer, func(sig domain.Signal) {
		if sig.From != remote {
			return
		}
		select {
		case offers <- sig:
		default:
		}
	})
	defer unsubscribe()

	select {
	case sig := <-offers:
		return sig, nil
	case <-client.Done():
		return domain.Signal{}, errors.New("relay connection lost")
	case <-ctx.Done():
		return domain.Signal{}, ctx.Err()
	}
}
