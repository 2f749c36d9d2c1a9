package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/logging"
	"github.com/jonathan/bidpilot/internal/types"
)

func testPayload() Payload {
	return Payload{
		TenantID: uuid.New(),
		UserID:   uuid.New(),
		JobID:    uuid.New(),
		Title:    "72% match: Go developer",
		Body:     "Strong fit. Matched: go, postgres",
		URL:      "https://example.com/jobs/1",
		FitScore: 72,
	}
}

type stubProvider struct {
	ch      types.Channel
	healthy bool
	mu      sync.Mutex
	calls   int
}

func (s *stubProvider) Channel() types.Channel { return s.ch }

func (s *stubProvider) Send(context.Context, Payload, Config) Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return Result{Success: true, Channel: s.ch}
}

func (s *stubProvider) HealthCheck(context.Context) bool { return s.healthy }

func TestRegistry(t *testing.T) {
	reg := NewRegistry(
		&stubProvider{ch: types.ChannelSMS, healthy: false},
		&stubProvider{ch: types.ChannelInApp, healthy: true},
		nil,
	)

	p, ok := reg.Get(types.ChannelInApp)
	require.True(t, ok)
	assert.Equal(t, types.ChannelInApp, p.Channel())

	_, ok = reg.Get(types.ChannelChat)
	assert.False(t, ok)

	assert.Equal(t, []types.Channel{types.ChannelInApp, types.ChannelSMS}, reg.Channels())
	assert.Equal(t, map[types.Channel]bool{types.ChannelInApp: true, types.ChannelSMS: false}, reg.Health(context.Background()))
}

func TestPayloadText(t *testing.T) {
	p := Payload{Title: "T", Body: "B", URL: "U"}
	assert.Equal(t, "T\nB\nU", p.Text())
	assert.Equal(t, "T", Payload{Title: "T"}.Text())
}

func TestLimited_FailsWhenDeadlineExpiresWhileWaiting(t *testing.T) {
	inner := &stubProvider{ch: types.ChannelSMS}
	limited := NewLimited(inner, 0.001, 1)

	first := limited.Send(context.Background(), testPayload(), Config{})
	assert.True(t, first.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := limited.Send(ctx, testPayload(), Config{})
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "rate limited")
	assert.Equal(t, types.ChannelSMS, second.Channel)
	assert.Equal(t, 1, inner.calls)
}

func TestLimited_ZeroRateIsUnlimited(t *testing.T) {
	inner := &stubProvider{ch: types.ChannelSMS, healthy: true}
	limited := NewLimited(inner, 0, 0)
	for i := 0; i < 5; i++ {
		assert.True(t, limited.Send(context.Background(), testPayload(), Config{}).Success)
	}
	assert.True(t, limited.HealthCheck(context.Background()))
}

func TestInApp_PublishesJobMatch(t *testing.T) {
	bus := events.NewBus(logging.Nop())
	got := make(chan events.Event, 1)
	bus.Subscribe(events.AlertJobMatch, "ui", func(_ context.Context, ev events.Event) error {
		got <- ev
		return nil
	})

	payload := testPayload()
	res := NewInApp(bus).Send(context.Background(), payload, Config{})
	bus.Wait()

	require.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)

	ev := <-got
	assert.Equal(t, payload.TenantID, ev.TenantID)
	relayed, ok := ev.Payload.(events.JobMatchPayload)
	require.True(t, ok)
	assert.Equal(t, payload.UserID, relayed.UserID)
	assert.Equal(t, res.MessageID, relayed.MessageID)
	assert.Equal(t, 72, relayed.FitScore)
}

func TestInApp_WithoutBus(t *testing.T) {
	p := NewInApp(nil)
	assert.False(t, p.HealthCheck(context.Background()))
	assert.False(t, p.Send(context.Background(), testPayload(), Config{}).Success)
}

func TestSMS_Send(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotTo, gotFrom, gotBody = r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("Body")
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM123"}`))
	}))
	defer srv.Close()

	sms := NewSMS(srv.URL, "AC1", "secret", "+15550001111", srv.Client())
	res := sms.Send(context.Background(), testPayload(), Config{Phone: "+14155550100"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "SM123", res.MessageID)
	assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", gotPath)
	assert.Equal(t, "+14155550100", gotTo)
	assert.Equal(t, "+15550001111", gotFrom)
	assert.True(t, strings.HasPrefix(gotBody, "72% match"))
	assert.Equal(t, "AC1", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestSMS_LongBodyIsCutOnCharacters(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM124"}`))
	}))
	defer srv.Close()

	// "é" is two bytes, so a byte cut at 1597 would split one
	payload := Payload{Title: "x" + strings.Repeat("é", 2000)}
	sms := NewSMS(srv.URL, "AC1", "secret", "+15550001111", srv.Client())
	res := sms.Send(context.Background(), payload, Config{Phone: "+14155550100"})

	require.True(t, res.Success, res.Error)
	assert.True(t, utf8.ValidString(gotBody))
	assert.Equal(t, maxSMSLength, utf8.RuneCountInString(gotBody))
	assert.True(t, strings.HasSuffix(gotBody, "é..."))
}

func TestClipRunes(t *testing.T) {
	assert.Equal(t, "héllo", clipRunes("héllo", 5))
	assert.Equal(t, "hé...", clipRunes("héllo wörld", 5))
}

func TestSMS_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	sms := NewSMS(srv.URL, "AC1", "secret", "+15550001111", srv.Client())

	res := sms.Send(context.Background(), testPayload(), Config{})
	assert.False(t, res.Success)
	assert.Equal(t, "no phone number configured", res.Error)

	res = sms.Send(context.Background(), testPayload(), Config{Phone: "+1"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Invalid 'To' Phone Number")

	unconfigured := NewSMS("", "", "", "", nil)
	assert.False(t, unconfigured.HealthCheck(context.Background()))
	assert.False(t, unconfigured.Send(context.Background(), testPayload(), Config{Phone: "+1"}).Success)
}

func TestChatAPI_Send(t *testing.T) {
	var gotPath string
	var gotReq chatSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"idMessage": "BAE5"}`))
	}))
	defer srv.Close()

	chat := NewChatAPI(srv.URL, srv.Client())
	assert.True(t, chat.HealthCheck(context.Background()))

	res := chat.Send(context.Background(), testPayload(), Config{
		ChatInstanceID: "1101",
		ChatToken:      "tok",
		ChatPhone:      "+447700900123",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "BAE5", res.MessageID)
	assert.Equal(t, "/waInstance1101/sendMessage/tok", gotPath)
	assert.Equal(t, "447700900123@c.us", gotReq.ChatID)
	assert.Contains(t, gotReq.Message, "Go developer")
}

func TestChatAPI_MissingConfig(t *testing.T) {
	chat := NewChatAPI("", nil)

	res := chat.Send(context.Background(), testPayload(), Config{ChatPhone: "+1"})
	assert.Equal(t, "chat API credentials not configured", res.Error)

	res = chat.Send(context.Background(), testPayload(), Config{ChatInstanceID: "1", ChatToken: "t"})
	assert.Equal(t, "no chat phone number configured", res.Error)
}
