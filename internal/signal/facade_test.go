package signal

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
	"omegartc/native/internal/domain/mock"
	"omegartc/native/internal/events"
	"omegartc/native/internal/registry"
)

func quietLogger() logging.LoggerFactory {
	return &logging.DefaultLoggerFactory{
		Writer:          io.Discard,
		DefaultLogLevel: logging.LogLevelDisabled,
	}
}

func newTestFacade() (*Facade, *mock.Engine) {
	engine := &mock.Engine{}
	reg := registry.New(engine, config.RTC{}, events.NewBus(), quietLogger())
	f := NewFacade(reg, quietLogger())
	f.pollInterval = 5 * time.Millisecond
	return f, engine
}


func TestMakeOffer_Data(t *testing.T) {
	f, engine := newTestFacade()
	ctx := context.Background()

	offer, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil)
	if err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		t.Errorf("unexpected offer %+v", offer)
	}

	native := engine.Last()
	if got := native.Local(); got == nil || *got != *offer {
		t.Errorf("local description = %+v, want %+v", got, offer)
	}
	conn, ok := f.Registry().Connection(domain.ModeData, "bob")
	if !ok {
		t.Fatal("expected a data connection for bob")
	}
	if conn.DisplayName() != "Bob" {
		t.Errorf("display name = %q, want Bob", conn.DisplayName())
	}
	if !f.ChannelExists("bob", registry.DefaultChannel) {
		t.Error("expected the default channel")
	}
}

func TestMakeOffer_ReusesConnection(t *testing.T) {
	f, engine := newTestFacade()
	ctx := context.Background()

	first, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil)
	if err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	second, err := f.MakeOffer(ctx, "bob", "Robert", domain.ModeData, nil)
	if err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}

	if n := len(engine.Connections()); n != 1 {
		t.Errorf("engine connections = %d, want 1", n)
	}
	if first.SDP == second.SDP {
		t.Error("expected a fresh offer on the second call")
	}
	conn, _ := f.Registry().Connection(domain.ModeData, "bob")
	if conn.DisplayName() != "Robert" {
		t.Errorf("display name = %q, want Robert", conn.DisplayName())
	}
}

func TestMakeOffer_Voice(t *testing.T) {
	f, engine := newTestFacade()

	_, err := f.MakeOffer(context.Background(), "carol", "Carol", domain.ModeVoice, &VoiceSetup{Microphone: true})
	if err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	if !engine.Last().MicAttached() {
		t.Error("expected the microphone to be attached")
	}
	if f.Exists(domain.ModeData, "carol") {
		t.Error("voice offer must not create a data connection")
	}
}

func TestMakeOffer_VoiceRequiresSetup(t *testing.T) {
	f, engine := newTestFacade()

	_, err := f.MakeOffer(context.Background(), "carol", "Carol", domain.ModeVoice, nil)
	if !errors.Is(err, ErrVoiceSetupRequired) {
		t.Fatalf("err = %v, want ErrVoiceSetupRequired", err)
	}
	if f.Exists(domain.ModeVoice, "carol") {
		t.Error("no connection should be created")
	}
	if n := len(engine.Connections()); n != 0 {
		t.Errorf("engine connections = %d, want 0", n)
	}
}

func TestMakeOffer_InvalidMode(t *testing.T) {
	f, _ := newTestFacade()

	_, err := f.MakeOffer(context.Background(), "bob", "Bob", domain.Mode(9), nil)
	if !errors.Is(err, domain.ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
}

func TestMakeOffer_EngineFailureKeepsConnection(t *testing.T) {
	f, engine := newTestFacade()

	if _, err := f.Registry().DataConnection("bob"); err != nil {
		t.Fatalf("DataConnection: %v", err)
	}
	engine.Last().OfferErr = mock.ErrRejected

	offer, err := f.MakeOffer(context.Background(), "bob", "Bob", domain.ModeData, nil)
	if !errors.Is(err, mock.ErrRejected) {
		t.Fatalf("err = %v, want mock.ErrRejected", err)
	}
	if offer != nil {
		t.Errorf("offer = %+v, want nil", offer)
	}
	if !f.Exists(domain.ModeData, "bob") {
		t.Error("connection should survive a failed offer")
	}
}

func TestMakeAnswer(t *testing.T) {
	f, engine := newTestFacade()
	remote := domain.SDPPayload{Type: "offer", SDP: "v=0\r\no=remote\r\n"}

	answer, err := f.MakeAnswer(context.Background(), "alice", "Alice", domain.ModeData, remote, nil)
	if err != nil {
		t.Fatalf("MakeAnswer: %v", err)
	}
	if answer.Type != "answer" {
		t.Errorf("answer type = %q", answer.Type)
	}

	native := engine.Last()
	if got := native.Remote(); got == nil || *got != remote {
		t.Errorf("remote description = %+v, want %+v", got, remote)
	}
	if got := native.Local(); got == nil || *got != *answer {
		t.Errorf("local description = %+v, want %+v", got, answer)
	}
}

func TestMakeAnswer_RemoteRejected(t *testing.T) {
	f, engine := newTestFacade()
	if _, err := f.Registry().DataConnection("alice"); err != nil {
		t.Fatalf("DataConnection: %v", err)
	}
	engine.Last().SetRemoteErr = mock.ErrRejected

	_, err := f.MakeAnswer(context.Background(), "alice", "Alice", domain.ModeData, domain.SDPPayload{Type: "offer", SDP: "x"}, nil)
	if !errors.Is(err, mock.ErrRejected) {
		t.Fatalf("err = %v, want mock.ErrRejected", err)
	}
	if engine.Last().Local() != nil {
		t.Error("no local description should be set")
	}
}

func TestApplyAnswer(t *testing.T) {
	f, engine := newTestFacade()
	ctx := context.Background()

	if _, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	answer := domain.SDPPayload{Type: "answer", SDP: "v=0\r\no=bob\r\n"}
	if err := f.ApplyAnswer(ctx, "bob", domain.ModeData, answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
	if got := engine.Last().Remote(); got == nil || *got != answer {
		t.Errorf("remote description = %+v, want %+v", got, answer)
	}
}

func TestApplyAnswer_NoConnection(t *testing.T) {
	f, engine := newTestFacade()

	err := f.ApplyAnswer(context.Background(), "ghost", domain.ModeData, domain.SDPPayload{Type: "answer", SDP: "x"})
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
	if f.Exists(domain.ModeData, "ghost") || len(engine.Connections()) != 0 {
		t.Error("applying an answer must not create a connection")
	}
}

func TestApplyCandidates_InOrder(t *testing.T) {
	f, engine := newTestFacade()
	ctx := context.Background()
	if _, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}

	list := []domain.ICECandidatePayload{
		{Candidate: "candidate:a", SDPMid: strPtr("0")},
		{Candidate: "candidate:b", SDPMid: strPtr("0")},
		{Candidate: "candidate:c", SDPMid: strPtr("0")},
	}
	if err := f.ApplyCandidates(ctx, "bob", domain.ModeData, list); err != nil {
		t.Fatalf("ApplyCandidates: %v", err)
	}
	if got := engine.Last().Added(); !reflect.DeepEqual(got, list) {
		t.Errorf("added = %+v, want %+v", got, list)
	}
}

func TestApplyCandidates_StopsAtRejection(t *testing.T) {
	f, engine := newTestFacade()
	ctx := context.Background()
	if _, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	engine.Last().RejectCandidate = "candidate:b"

	list := []domain.ICECandidatePayload{
		{Candidate: "candidate:a"},
		{Candidate: "candidate:b"},
		{Candidate: "candidate:c"},
	}
	err := f.ApplyCandidates(ctx, "bob", domain.ModeData, list)
	if !errors.Is(err, mock.ErrRejected) {
		t.Fatalf("err = %v, want mock.ErrRejected", err)
	}
	if got := engine.Last().Added(); len(got) != 1 || got[0].Candidate != "candidate:a" {
		t.Errorf("added = %+v, want only candidate:a", got)
	}
}

func TestApplyCandidates_NoConnection(t *testing.T) {
	f, _ := newTestFacade()

	err := f.ApplyCandidates(context.Background(), "ghost", domain.ModeVoice, []domain.ICECandidatePayload{{Candidate: "x"}})
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
}

func TestWaitForIceGatheringComplete(t *testing.T) {
	f, engine := newTestFacade()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	native := engine.Last()

	go func() {
		time.Sleep(20 * time.Millisecond)
		native.EmitCandidate(&domain.ICECandidatePayload{Candidate: "candidate:a"})
		native.EmitCandidate(nil)
	}()

	if err := f.WaitForIceGatheringComplete(ctx, domain.ModeData, "bob"); err != nil {
		t.Fatalf("WaitForIceGatheringComplete: %v", err)
	}
	if got := f.Registry().Candidates(domain.ModeData, "bob"); len(got) != 1 {
		t.Errorf("candidates = %+v, want one", got)
	}
}

func TestWaitForIceGatheringComplete_AlreadyDone(t *testing.T) {
	f, engine := newTestFacade()
	if _, err := f.MakeOffer(context.Background(), "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	engine.Last().EmitCandidate(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.WaitForIceGatheringComplete(ctx, domain.ModeData, "bob"); err != nil {
		t.Errorf("err = %v, want nil when gathering already finished", err)
	}
}

func TestWaitForIceGatheringComplete_Cancelled(t *testing.T) {
	f, _ := newTestFacade()
	if _, err := f.MakeOffer(context.Background(), "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := f.WaitForIceGatheringComplete(ctx, domain.ModeData, "bob")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestHandshakeSteps_SerializedPerConnection(t *testing.T) {
	f, engine := newTestFacade()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.MakeOffer(ctx, "bob", "Bob", domain.ModeData, nil); err != nil {
				t.Errorf("MakeOffer: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(engine.Connections()); n != 1 {
		t.Errorf("engine connections = %d, want 1", n)
	}
}

func TestWaitForIceGatheringComplete_UnknownPeer(t *testing.T) {
	f, _ := newTestFacade()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := f.WaitForIceGatheringComplete(ctx, domain.ModeData, "ghost")
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
	if _, err := f.Candidates(ctx, domain.ModeData, "ghost"); !errors.Is(err, ErrNoConnection) {
		t.Errorf("Candidates err = %v, want ErrNoConnection", err)
	}
}

func TestWaitForIceGatheringComplete_ClosedWhileWaiting(t *testing.T) {
	f, _ := newTestFacade()
	if _, err := f.MakeOffer(context.Background(), "bob", "Bob", domain.ModeData, nil); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Disconnect(domain.ModeData, "bob")
	}()

	err := f.WaitForIceGatheringComplete(ctx, domain.ModeData, "bob")
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
	if ctx.Err() != nil {
		t.Error("wait should end when the connection goes away, not at the deadline")
	}
}
