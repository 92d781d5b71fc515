package domain_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"eartheater/server/domain"
	"eartheater/server/domain/mocks"

	"go.uber.org/mock/gomock"
)

func newTestEndpoint(t *testing.T, ctrl *gomock.Controller) (*domain.SessionEndpoint, *mocks.MockTransport, *mocks.MockDispatcher, chan []byte) {
	t.Helper()
	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	d := mocks.NewMockDispatcher(ctrl)
	c := domain.NewConnection(s.ID(), tr)
	cfg := domain.EndpointConfig{TickHz: 60}

	written := make(chan []byte, 16)
	tr.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, data []byte) error {
		written <- data
		return nil
	}).AnyTimes()

	se, err := domain.NewSessionEndpoint(context.Background(), s, c, domain.NewSimplePubSub(16), d, domain.JSONCodec{}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return se, tr, d, written
}

func blockUntilDone(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func nextResponse(t *testing.T, written <-chan []byte) domain.Response {
	t.Helper()
	select {
	case data := <-written:
		var resp domain.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("invalid response %q: %v", data, err)
		}
		return resp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
	return domain.Response{}
}

func runEndpoint(se *domain.SessionEndpoint) <-chan error {
	done := make(chan error, 1)
	go func() { done <- se.Run() }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("endpoint did not stop")
	}
}

// 初期化時に必須の依存が欠けているとエラーになることを確認
func TestNewSessionEndpoint_RequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := domain.NewSession()
	c := domain.NewConnection(s.ID(), mocks.NewMockTransport(ctrl))

	_, err := domain.NewSessionEndpoint(context.Background(), s, c, domain.NewSimplePubSub(1), nil, domain.JSONCodec{}, domain.DefaultEndpointConfig())
	if !errors.Is(err, domain.ErrInitializationFailed) {
		t.Fatalf("err = %v, want ErrInitializationFailed", err)
	}
}

func TestSessionEndpoint_DispatchesRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	se, tr, d, written := newTestEndpoint(t, ctrl)
	sid := se.Session().ID()

	req, _ := json.Marshal(domain.Request{Seq: 7, Type: domain.MsgCreateLobby})
	gomock.InOrder(
		tr.EXPECT().Read(gomock.Any()).Return(req, nil),
		tr.EXPECT().Read(gomock.Any()).DoAndReturn(blockUntilDone).AnyTimes(),
	)
	d.EXPECT().Dispatch(gomock.Any(), sid, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.SessionID, r *domain.Request) *domain.Response {
			return domain.Success(r.Seq, r.Type, map[string]string{"id": "ABCDEF"})
		})
	d.EXPECT().Disconnect(gomock.Any(), sid)
	tr.EXPECT().Close(domain.CloseNormal, "")

	done := runEndpoint(se)

	welcome := nextResponse(t, written)
	if welcome.Type != domain.MsgWelcome || !welcome.OK() {
		t.Fatalf("first message = %+v, want welcome", welcome)
	}
	data, _ := welcome.Data.(map[string]any)
	if data["sessionId"] != sid.String() {
		t.Errorf("welcome sessionId = %v, want %s", data["sessionId"], sid)
	}

	resp := nextResponse(t, written)
	if resp.Seq != 7 || resp.Type != domain.MsgCreateLobby || resp.Error != "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	se.ForceClose()
	waitDone(t, done)
}

func TestSessionEndpoint_RejectsUnknownType(t *testing.T) {
	ctrl := gomock.NewController(t)
	se, tr, d, written := newTestEndpoint(t, ctrl)

	gomock.InOrder(
		tr.EXPECT().Read(gomock.Any()).Return([]byte(`{"seq":3,"type":"bogus"}`), nil),
		tr.EXPECT().Read(gomock.Any()).DoAndReturn(blockUntilDone).AnyTimes(),
	)
	d.EXPECT().Disconnect(gomock.Any(), gomock.Any())
	tr.EXPECT().Close(gomock.Any(), gomock.Any())

	done := runEndpoint(se)
	nextResponse(t, written) // welcome

	resp := nextResponse(t, written)
	if resp.Seq != 3 || resp.OK() {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Error, domain.ErrUnknownMessageType.Error()) {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Data != nil {
		t.Errorf("failure carries data: %v", resp.Data)
	}

	se.ForceClose()
	waitDone(t, done)
}

func TestSessionEndpoint_ReadErrorClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	se, tr, d, _ := newTestEndpoint(t, ctrl)

	tr.EXPECT().Read(gomock.Any()).Return(nil, io.EOF)
	d.EXPECT().Disconnect(gomock.Any(), se.Session().ID())
	tr.EXPECT().Close(domain.CloseGoingAway, "read error")

	done := runEndpoint(se)
	waitDone(t, done)

	if !se.Session().IsClosed() {
		t.Errorf("session not closed after read error")
	}
	if err := se.Send([]byte("late")); !errors.Is(err, domain.ErrEndpointClosed) {
		t.Errorf("Send after close = %v, want ErrEndpointClosed", err)
	}
}

func TestSessionEndpoint_ForwardsPubSubMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	d := mocks.NewMockDispatcher(ctrl)
	ps := domain.NewSimplePubSub(16)

	written := make(chan []byte, 16)
	tr.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, data []byte) error {
		written <- data
		return nil
	}).AnyTimes()
	tr.EXPECT().Read(gomock.Any()).DoAndReturn(blockUntilDone).AnyTimes()
	tr.EXPECT().Close(gomock.Any(), gomock.Any())
	d.EXPECT().Disconnect(gomock.Any(), s.ID())

	se, err := domain.NewSessionEndpoint(context.Background(), s, domain.NewConnection(s.ID(), tr), ps, d, domain.JSONCodec{}, domain.EndpointConfig{})
	if err != nil {
		t.Fatal(err)
	}
	done := runEndpoint(se)
	nextResponse(t, written) // welcome

	// Subscribe は Run 内で行われるため届くまで再送する
	deadline := time.After(time.Second)
	for {
		ps.Publish(context.Background(), domain.SessionTopic(s.ID()), domain.Message{Data: []byte(`{"seq":0,"type":"gameStateUpdate","data":{}}`)})
		select {
		case data := <-written:
			if !strings.Contains(string(data), "gameStateUpdate") {
				t.Fatalf("unexpected forward: %s", data)
			}
			se.ForceClose()
			waitDone(t, done)
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("pubsub message was not forwarded")
		}
	}
}
